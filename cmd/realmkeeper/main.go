// Command realmkeeper serves the campaign world graph and semantic memory
// core to a narrator agent over MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/realmkeeper/internal/app"
	"github.com/MrWong99/realmkeeper/internal/config"
	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/internal/resilience"
	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/pkg/memory"
	"github.com/MrWong99/realmkeeper/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/realmkeeper/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/realmkeeper/pkg/provider/embeddings/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	importPath := flag.String("import", "", "world file to import before serving")
	importOnly := flag.Bool("import-only", false, "exit after -import and -backfill instead of serving")
	backfill := flag.String("backfill", "", "campaign whose location embeddings to backfill before serving")
	backfillAll := flag.Bool("backfill-all", false, "with -backfill, re-embed locations that already have a vector")
	backfillBatch := flag.Int("backfill-batch", world.DefaultBackfillBatch, "with -backfill, texts per provider call")
	backfillDryRun := flag.Bool("backfill-dry-run", false, "with -backfill, compute embeddings without writing them")
	watch := flag.Bool("watch", true, "reload log level and layout when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "realmkeeper: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "realmkeeper: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs always go to stderr so that stdout stays free for MCP over stdio.
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, &level))

	slog.Info("realmkeeper starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"store", cfg.Store.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Embeddings provider ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, metrics)

	opts := []app.Option{app.WithMetrics(metrics), app.WithLogLevel(&level)}
	if cfg.Embeddings.Name != "" {
		p, err := buildEmbedder(reg, cfg)
		if err != nil {
			slog.Error("failed to create embeddings provider", "err", err)
			return 1
		}
		opts = append(opts, app.WithEmbedder(p))
	}

	printStartupSummary(os.Stderr, cfg)

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── World import ──────────────────────────────────────────────────────────
	if *importPath != "" {
		report, err := application.ImportWorld(ctx, *importPath)
		if err != nil {
			slog.Error("world import failed", "path", *importPath, "err", err)
			_ = application.Shutdown(context.Background())
			return 1
		}
		for name, id := range report.LocationIDs {
			slog.Debug("imported location", "name", name, "id", id)
		}
	}

	// ── Embedding backfill ────────────────────────────────────────────────────
	if *backfill != "" {
		_, err := application.BackfillEmbeddings(ctx, *backfill, world.BackfillOptions{
			All:       *backfillAll,
			BatchSize: *backfillBatch,
			DryRun:    *backfillDryRun,
		})
		if err != nil {
			slog.Error("embedding backfill failed", "campaign_id", *backfill, "err", err)
			_ = application.Shutdown(context.Background())
			return 1
		}
	}
	if *importOnly && (*importPath != "" || *backfill != "") {
		_ = application.Shutdown(context.Background())
		return 0
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the embeddings providers that ship with
// Realmkeeper into reg. Both request the store's fixed vector size.
func registerBuiltinProviders(reg *config.Registry, metrics *observe.Metrics) {
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{
			oaembed.WithDimensions(memory.Dimensions),
			oaembed.WithMetrics(metrics),
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []ollamaembed.Option{
			ollamaembed.WithDimensions(memory.Dimensions),
			ollamaembed.WithMetrics(metrics),
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, name := range reg.EmbeddingsNames() {
		slog.Debug("registered provider", "kind", "embeddings", "name", name)
	}
}

// buildEmbedder creates the primary embeddings provider and, when fallbacks
// are configured, wraps it together with them in a failover group.
func buildEmbedder(reg *config.Registry, cfg *config.Config) (embeddings.Provider, error) {
	primary, err := reg.CreateEmbeddings(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("embeddings %q: %w", cfg.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Embeddings.Name, "model", primary.ModelID())
	if len(cfg.EmbeddingsFallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewEmbeddingsFallback(cfg.Embeddings.Name, primary, resilience.BreakerConfig{})
	for i, entry := range cfg.EmbeddingsFallbacks {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("embeddings_fallbacks[%d] %q: %w", i, entry.Name, err)
		}
		name := fmt.Sprintf("%s#%d", entry.Name, i+1)
		if err := group.Add(name, p); err != nil {
			return nil, err
		}
		slog.Info("fallback provider created", "kind", "embeddings", "name", name, "model", p.ModelID())
	}
	return group, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      Realmkeeper: startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Store", string(cfg.Store.Backend))
	embed := "(not configured)"
	if cfg.Embeddings.Name != "" {
		embed = cfg.Embeddings.Name
		if cfg.Embeddings.Model != "" {
			embed += " / " + cfg.Embeddings.Model
		}
		if n := len(cfg.EmbeddingsFallbacks); n > 0 {
			embed += fmt.Sprintf(" (+%d)", n)
		}
	}
	printRow(w, "Embeddings", embed)
	mcp := string(cfg.MCP.Transport)
	if cfg.MCP.Transport == config.MCPHTTP {
		mcp += " " + cfg.MCP.Path
	}
	printRow(w, "MCP", mcp)
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "30s" from a provider
// Options map. Returns 0 when absent or malformed.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
