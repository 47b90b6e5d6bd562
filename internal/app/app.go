// Package app wires all Realmkeeper subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the document store and
// builds the world, travel, memory and tool services; Run serves HTTP (and
// MCP over stdio when configured) until the context ends; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithEmbedder, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/realmkeeper/internal/config"
	"github.com/MrWong99/realmkeeper/internal/health"
	"github.com/MrWong99/realmkeeper/internal/mcpserver"
	"github.com/MrWong99/realmkeeper/internal/narration"
	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/internal/travel"
	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/internal/worldfile"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/docstore/memstore"
	"github.com/MrWong99/realmkeeper/pkg/docstore/postgres"
	"github.com/MrWong99/realmkeeper/pkg/docstore/sqlite"
	"github.com/MrWong99/realmkeeper/pkg/memory"
	"github.com/MrWong99/realmkeeper/pkg/provider/embeddings"
)

const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	logLevel *slog.LevelVar

	store    docstore.Store
	embedder embeddings.Provider
	metrics  *observe.Metrics

	world     *world.Service
	travel    *travel.Validator
	memories  *memory.Store
	retriever *memory.Retriever
	narration *narration.Assembler
	tools     *mcpserver.Server
	health    *health.Handler

	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a document store instead of opening the configured
// backend. The caller keeps ownership and closes it.
func WithStore(s docstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEmbedder sets the embeddings provider. Without one the memory tools
// are not offered and world files cannot seed memories.
func WithEmbedder(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the App the level variable behind the process logger
// so that config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already
// have defaults applied (see [config.ApplyDefaults]).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Document store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Embeddings ────────────────────────────────────────────────────
	if a.embedder != nil {
		if err := embeddings.Verify(a.embedder, memory.Dimensions); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: embeddings: %w", err)
		}
	}

	// ── 3. Domain services ───────────────────────────────────────────────
	a.world = world.NewService(a.store,
		world.WithMetrics(a.metrics),
		world.WithLayout(world.LayoutConfig{Spacing: cfg.Layout.Spacing, Offset: cfg.Layout.Offset}))
	a.travel = travel.New(a.store, a.metrics)
	a.memories = memory.NewStore(a.store, memory.WithStoreMetrics(a.metrics))
	a.retriever = memory.NewRetriever(a.store,
		memory.WithOverfetch(cfg.Memory.Overfetch),
		memory.WithRetrieverMetrics(a.metrics))
	a.narration = narration.NewAssembler(a.retriever, a.store)

	// ── 4. MCP tool server ───────────────────────────────────────────────
	if cfg.MCP.Transport != config.MCPOff {
		tools, err := mcpserver.New(mcpserver.Deps{
			World:     a.world,
			Travel:    a.travel,
			Memories:  a.memories,
			Searcher:  a.retriever,
			Narration: a.narration,
			Embedder:  a.embedder,
		}, mcpserver.WithMetrics(a.metrics))
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init mcp: %w", err)
		}
		a.tools = tools
	}

	// ── 5. Health ────────────────────────────────────────────────────────
	var checkers []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("store", p))
	}
	a.health = health.New(checkers...)

	return a, nil
}

// initStore opens the configured backend unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		st, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error {
			st.Close()
			return nil
		})
	case config.BackendSQLite:
		st, err := sqlite.Open(a.cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	case config.BackendMemory, "":
		a.store = memstore.New()
	default:
		return fmt.Errorf("unknown backend %q", a.cfg.Store.Backend)
	}
	slog.Info("document store opened", "backend", a.cfg.Store.Backend)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// World returns the world graph service.
func (a *App) World() *world.Service { return a.world }

// Travel returns the travel validator.
func (a *App) Travel() *travel.Validator { return a.travel }

// Retriever returns the memory retrieval engine.
func (a *App) Retriever() *memory.Retriever { return a.retriever }

// ─── World files ─────────────────────────────────────────────────────────────

// ImportWorld loads the world file at path and writes it into the store.
func (a *App) ImportWorld(ctx context.Context, path string) (*worldfile.Report, error) {
	wf, err := worldfile.Load(path)
	if err != nil {
		return nil, err
	}
	var opts []worldfile.Option
	if a.embedder != nil {
		opts = append(opts, worldfile.WithEmbedder(a.embedder), worldfile.WithMemorySaver(a.memories))
	}
	return worldfile.NewImporter(a.world, opts...).Import(ctx, wf)
}

// BackfillEmbeddings embeds the locations of campaignID that lack a vector,
// or all of them with opts.All. It fails with [world.ErrNoEmbedder] when no
// embeddings provider is configured.
func (a *App) BackfillEmbeddings(ctx context.Context, campaignID string, opts world.BackfillOptions) (*world.BackfillReport, error) {
	if a.embedder == nil {
		return nil, world.ErrNoEmbedder
	}
	return a.world.BackfillEmbeddings(ctx, campaignID, a.embedder, opts)
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. It is
// meant to be passed to [config.NewWatcher]. Settings listed in
// d.RestartRequired are ignored.
func (a *App) ApplyConfig(_ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LayoutChanged {
		a.world.SetLayout(world.LayoutConfig{Spacing: d.NewLayout.Spacing, Offset: d.NewLayout.Offset})
		slog.Info("layout changed", "spacing", d.NewLayout.Spacing, "offset", d.NewLayout.Offset)
	}
}

// SlogLevel maps a config level to its slog counterpart. Unknown levels map
// to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP surface: health probes, Prometheus metrics and,
// when the transport is "http", the MCP endpoint. Every route is wrapped in
// the tracing and request-metrics middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.tools != nil && a.cfg.MCP.Transport == config.MCPHTTP {
		mux.Handle(a.cfg.MCP.Path, a.tools.HTTPHandler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and, for the stdio transport,
// the MCP session on stdin/stdout. It blocks until ctx is cancelled or a
// server fails, and returns ctx.Err() on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. Tests pass a loopback listener on
// port 0.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("app: http: %w", err)
		}
	}()
	if a.tools != nil && a.cfg.MCP.Transport == config.MCPStdio {
		go func() {
			if err := a.tools.RunStdio(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("app: mcp stdio: %w", err)
			}
		}()
	}

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"mcp_transport", a.cfg.MCP.Transport,
		"memory_tools", a.embedder != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server as draining, stops the HTTP server and closes
// the store. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.SetDraining()

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers on a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
