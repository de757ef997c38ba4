// Package scheduler runs the periodic maintenance jobs: progress rollup
// reconciliation and stale execution sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/execution"
	"github.com/mcp-jive/jive/internal/workitem"
)

// Config configures the maintenance scheduler.
type Config struct {
	// RecalcSpec is the cron spec for the full progress recalculation.
	// Default: every 10 minutes.
	RecalcSpec string
	// SweepSpec is the cron spec for the stale execution sweep.
	// Default: every 5 minutes.
	SweepSpec string
	// StaleHorizon is how long a running execution may go without a
	// progress update before the sweep fails it. Default: 1 hour.
	StaleHorizon time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecalcSpec:   "*/10 * * * *",
		SweepSpec:    "*/5 * * * *",
		StaleHorizon: time.Hour,
	}
}

// Scheduler owns the cron runner for background maintenance.
type Scheduler struct {
	items   *workitem.Service
	tracker *execution.Tracker
	logger  *zap.Logger
	cfg     Config

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a maintenance scheduler.
func New(items *workitem.Service, tracker *execution.Tracker, logger *zap.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecalcSpec == "" {
		cfg.RecalcSpec = DefaultConfig().RecalcSpec
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = DefaultConfig().SweepSpec
	}
	if cfg.StaleHorizon <= 0 {
		cfg.StaleHorizon = DefaultConfig().StaleHorizon
	}
	return &Scheduler{
		items:   items,
		tracker: tracker,
		logger:  logger.Named("scheduler"),
		cfg:     cfg,
	}
}

// Start registers the jobs and starts the cron runner. It is safe to call
// Start multiple times.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.RecalcSpec, func() { s.recalc(ctx) }); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.cfg.SweepSpec, func() { s.sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.logger.Info("maintenance scheduler started",
		zap.String("recalc_spec", s.cfg.RecalcSpec),
		zap.String("sweep_spec", s.cfg.SweepSpec),
		zap.Duration("stale_horizon", s.cfg.StaleHorizon))
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) recalc(ctx context.Context) {
	written, err := s.items.RecalculateAll(ctx)
	if err != nil {
		s.logger.Warn("progress recalculation failed", zap.Error(err))
		return
	}
	if written > 0 {
		s.logger.Info("progress recalculation complete", zap.Int("updated", written))
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	swept := s.tracker.SweepStale(ctx, s.cfg.StaleHorizon)
	if swept > 0 {
		s.logger.Info("stale executions failed by sweep", zap.Int("count", swept))
	}
}
