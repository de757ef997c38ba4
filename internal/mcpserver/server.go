// Package mcpserver exposes the work-item, dependency, execution, and memory
// services as MCP tools over stdio and HTTP SSE.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/config"
	"github.com/mcp-jive/jive/internal/dependency"
	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/execution"
	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/scheduler"
	"github.com/mcp-jive/jive/internal/storage"
	"github.com/mcp-jive/jive/internal/workitem"
)

// Version is injected from build metadata.
var Version = "dev"

// Server wires the domain services behind the MCP tool surface.
type Server struct {
	server  *mcp.Server
	handler http.Handler

	cfg     config.Config
	store   *storage.Engine
	bus     *events.Bus
	items   *workitem.Service
	deps    *dependency.Engine
	tracker *execution.Tracker
	memory  *memory.Store
	maint   *scheduler.Scheduler
	logger  *zap.Logger

	limiter *dispatchLimiter
}

// New opens storage, builds the domain services, and registers the tool
// surface according to the configured tool mode.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var embedder embedding.Embedder
	if cfg.HasRemoteEmbedder() {
		embedder = embedding.NewClient(embedding.ClientConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
		})
	} else {
		embedder = embedding.NewLocal(embedding.DefaultDims)
	}

	schemas := []storage.Schema{workitem.Schema(), execution.Schema()}
	schemas = append(schemas, memory.Schemas()...)
	store, err := storage.Open(filepath.Join(cfg.DataDir, "jive.db"), schemas, embedder, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(64)
	items := workitem.NewService(store, bus, logger)
	deps := dependency.NewEngine(items, logger)
	tracker, err := execution.NewTracker(ctx, store, deps, bus, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	mem := memory.NewStore(store, bus, logger)

	implVersion := Version
	if implVersion == "" {
		implVersion = "dev"
	}
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "jive",
		Version: implVersion,
	}, nil)

	s := &Server{
		server:  srv,
		cfg:     cfg,
		store:   store,
		bus:     bus,
		items:   items,
		deps:    deps,
		tracker: tracker,
		memory:  mem,
		maint:   scheduler.New(items, tracker, logger, scheduler.DefaultConfig()),
		logger:  logger.Named("mcp"),
		limiter: newDispatchLimiter(maxInFlightCalls, maxQueuedCalls),
	}

	s.registerTools()
	if cfg.LegacySupport || cfg.ToolMode == config.ToolModeFull {
		s.registerLegacyTools()
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.handler = mux

	return s, nil
}

// Run starts background maintenance and serves MCP over stdio until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.maint.Start(ctx); err != nil {
		return err
	}
	defer s.maint.Stop()
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the HTTP surface (/mcp, /metrics, /healthz).
func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}

// Close releases storage. The server must not be used afterwards.
func (s *Server) Close() error {
	s.maint.Stop()
	return s.store.Close()
}

// handleEvents streams server events as SSE, one bus subscription per
// connection. Slow clients lose events rather than stall publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := "sse-" + uuid.NewString()
	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.JSON())
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Ping(); err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
