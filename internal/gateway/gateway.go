// ABOUTME: Gateway orchestrator wiring the engine, registry, bus, streams, and store
// ABOUTME: Owns the HTTP server lifecycle: routes, readiness, graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/engine"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/progress"
	"github.com/2389/switchboard/internal/queue"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/store"
	"github.com/2389/switchboard/internal/stream"
)

// Gateway orchestrates the switchboard server components. It owns the
// session registry, the shared progress bus and stream table, the optional
// transcript store, and the HTTP server that exposes them.
type Gateway struct {
	config     *config.Config
	engine     engine.Engine
	bus        *progress.Bus
	streams    *stream.Table
	registry   *session.Registry
	store      *store.SQLiteStore // nil when history is disabled
	metrics    *metrics.Metrics   // nil when metrics are disabled; methods are nil-safe
	httpServer *http.Server
	logger     *slog.Logger

	ready atomic.Bool
}

// New creates a Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	bus := progress.NewBus(logger)
	streams := stream.NewTable(logger)

	// A nil *SQLiteStore must stay a nil interface, or the queue would call
	// through it.
	var recorder queue.TranscriptRecorder
	if st != nil {
		recorder = st
	}

	registry := session.NewRegistry(eng, bus, streams, session.Options{
		Limits: queue.Limits{
			Capacity:       cfg.Queue.Capacity,
			MaxSteps:       cfg.Queue.MaxSteps,
			StuckThreshold: cfg.Queue.StuckThreshold,
			StallTimeout:   cfg.Queue.StallTimeout,
		},
		IdleTimeout:   cfg.Sessions.IdleTTL,
		SweepInterval: cfg.Sessions.SweepInterval,
		Recorder:      recorder,
		Metrics:       m,
		Logger:        logger,
	})

	g := &Gateway{
		config:   cfg,
		engine:   eng,
		bus:      bus,
		streams:  streams,
		registry: registry,
		store:    st,
		metrics:  m,
		logger:   logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           g.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// buildEngine constructs the execution engine named by the configuration.
func buildEngine(cfg *config.Config, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.Engine.Kind {
	case "echo":
		return engine.NewEcho(cfg.Engine.ChunkDelay, logger), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
	}
}

// initStore opens the transcript store, or returns nil when history is
// disabled. SWITCHBOARD_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}

	dbPath := cfg.History.Path
	if envPath := os.Getenv("SWITCHBOARD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// router builds the HTTP route table.
func (g *Gateway) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", g.handleHealthz).Methods("GET")
	r.HandleFunc("/readyz", g.handleReadyz).Methods("GET")
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler()).Methods("GET")
	}

	r.HandleFunc("/api/chat", g.handleChat).Methods("POST")
	r.HandleFunc("/api/sessions", g.handleListSessions).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceID}/sessions", g.handleWorkspaceSessions).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionID}", g.handleRemoveSession).Methods("DELETE")
	r.HandleFunc("/api/sessions/{sessionID}/queue", g.handleQueueStatus).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionID}/queue/{commandID}", g.handleCancel).Methods("DELETE")
	r.HandleFunc("/api/sessions/{sessionID}/events", g.handleSessionEvents).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionID}/history", g.handleSessionHistory).Methods("GET")

	return r
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.Addr(), err)
	}

	errCh := g.startServer(ln)
	g.ready.Store(true)

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and the configured
// timeout. Uses context.Background() intentionally since the original
// context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, tears down every session, and releases
// resources. The registry closes before the bus and stream table so that
// cancellation events still reach attached subscribers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.ready.Store(false)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.registry.Close()
	g.bus.Close()
	g.streams.Close()

	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealthz returns 200 OK if the process is alive.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReadyz returns 200 OK once the server is accepting connections.
func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !g.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.registry.Count())
}
