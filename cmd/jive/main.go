// Jive is an agile workflow server speaking MCP over stdio and HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcp-jive/jive/internal/config"
	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/mcpserver"
	"github.com/mcp-jive/jive/internal/storage"
	"github.com/mcp-jive/jive/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `Usage:
  jive server start [--config path] [--http]
  jive server stop [--config path]
  jive sync export [--config path] [--dir path]
  jive sync import [--config path] [--dir path] [--mode mode]
  jive version

Exit codes: 0 success, 1 validation failure, 2 internal error.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	switch args[0] {
	case "server":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 1
		}
		switch args[1] {
		case "start":
			return runServer(args[2:])
		case "stop":
			return runStop(args[2:])
		default:
			fmt.Fprint(os.Stderr, usage)
			return 1
		}

	case "sync":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 1
		}
		switch args[1] {
		case "export":
			return runSync(args[2:], true)
		case "import":
			return runSync(args[2:], false)
		default:
			fmt.Fprint(os.Stderr, usage)
			return 1
		}

	case "version":
		fmt.Printf("jive %s (%s) built %s\n", version, commit, date)
		return 0

	default:
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
}

// pidFile is where server start records its pid, relative to the data dir.
func pidFile(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "jive.pid")
}

func runStop(args []string) int {
	fs := flag.NewFlagSet("server stop", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	data, err := os.ReadFile(pidFile(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running server found (%s)\n", pidFile(cfg))
		return 1
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "corrupt pid file %s: %v\n", pidFile(cfg), err)
		return 1
	}

	proc, err := os.FindProcess(pid)
	if err == nil {
		err = proc.Signal(syscall.SIGTERM)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "signal pid %d: %v\n", pid, err)
		return 2
	}
	fmt.Printf("sent SIGTERM to pid %d\n", pid)
	return 0
}

func buildLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	// MCP stdio owns stdout; keep all logging on stderr.
	zcfg.OutputPaths = []string{"stderr"}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func runServer(args []string) int {
	fs := flag.NewFlagSet("server start", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	withHTTP := fs.Bool("http", false, "also serve HTTP (/mcp SSE, /events, /metrics, /healthz)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := buildLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		logger.Error("tracing init failed", zap.Error(err))
		return 2
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Error("cannot create data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
		return 2
	}

	if err := os.WriteFile(pidFile(cfg), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		logger.Error("cannot write pid file", zap.String("path", pidFile(cfg)), zap.Error(err))
		return 2
	}
	defer os.Remove(pidFile(cfg))

	mcpserver.Version = version
	srv, err := mcpserver.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("server init failed", zap.Error(err))
		return 2
	}
	defer srv.Close()

	if *withHTTP {
		httpSrv := &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      srv.Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("http surface listening", zap.String("addr", cfg.ListenAddr))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", zap.Error(err))
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting jive server",
		zap.String("version", version),
		zap.String("data_dir", cfg.DataDir),
		zap.String("tool_mode", string(cfg.ToolMode)),
		zap.Bool("legacy_support", cfg.LegacySupport),
	)

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", zap.Error(err))
		return 2
	}
	logger.Info("shutting down")
	return 0
}

func runSync(args []string, export bool) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	dir := fs.String("dir", "", "export/import directory")
	mode := fs.String("mode", "", "import mode: create_only, update_only, create_or_update, replace")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !export && !memory.ImportMode(*mode).Valid() {
		fmt.Fprintf(os.Stderr, "unknown import mode %q\n", *mode)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := buildLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	store, err := storage.Open(filepath.Join(cfg.DataDir, "jive.db"), memory.Schemas(), embedder, logger)
	if err != nil {
		logger.Error("open storage failed", zap.Error(err))
		return 2
	}
	defer store.Close()

	mem := memory.NewStore(store, events.NewBus(16), logger)

	target := *dir
	if target == "" {
		target = cfg.ExportDir
	}
	if target == "" {
		target = filepath.Join(cfg.DataDir, "exports")
	}

	var result *memory.SyncResult
	if export {
		result, err = mem.ExportDir(ctx, target)
	} else {
		result, err = mem.ImportDir(ctx, target, memory.ImportMode(*mode))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync: %v\n", err)
		return 2
	}

	if export {
		fmt.Printf("exported %d items to %s\n", result.Exported, target)
	} else {
		fmt.Printf("imported from %s: %d created, %d updated, %d skipped\n",
			target, result.Created, result.Updated, result.Skipped)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e)
	}
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}
