package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/realmkeeper/pkg/memory"
)

// ValidEmbeddingProviders lists the embeddings providers registered by the
// application. Used by [Validate] to warn about unrecognised names.
var ValidEmbeddingProviders = []string{"openai", "ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	// Fields whose zero value is meaningful are seeded before decoding.
	cfg := &Config{Layout: LayoutConfig{Offset: DefaultLayoutOffset}}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Store
	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Backend))
	case cfg.Store.Backend == BackendPostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when backend is postgres"))
	case cfg.Store.Backend == BackendSQLite && cfg.Store.SQLitePath == "":
		errs = append(errs, errors.New("store.sqlite_path is required when backend is sqlite"))
	case cfg.Store.Backend == BackendMemory:
		slog.Warn("store.backend is memory; campaign data is lost on shutdown")
	}

	// Memory
	if d := cfg.Memory.EmbeddingDimensions; d != 0 && d != memory.Dimensions {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d is unsupported; the stores use %d", d, memory.Dimensions))
	}
	if cfg.Memory.Overfetch < 0 {
		errs = append(errs, fmt.Errorf("memory.overfetch %d must not be negative", cfg.Memory.Overfetch))
	}

	// Layout
	if cfg.Layout.Spacing < 0 {
		errs = append(errs, fmt.Errorf("layout.spacing %d must not be negative", cfg.Layout.Spacing))
	}
	if cfg.Layout.Offset < 0 {
		errs = append(errs, fmt.Errorf("layout.offset %d must not be negative", cfg.Layout.Offset))
	}

	// Embeddings
	validateProviderName(cfg.Embeddings.Name)
	if cfg.Embeddings.Name == "openai" && cfg.Embeddings.APIKey == "" {
		errs = append(errs, errors.New("embeddings.api_key is required for the openai provider"))
	}
	if len(cfg.EmbeddingsFallbacks) > 0 && cfg.Embeddings.Name == "" {
		errs = append(errs, errors.New("embeddings_fallbacks require a primary embeddings provider"))
	}
	for i, fb := range cfg.EmbeddingsFallbacks {
		switch {
		case fb.Name == "":
			errs = append(errs, fmt.Errorf("embeddings_fallbacks[%d].name is required", i))
		case fb.Name == "openai" && fb.APIKey == "":
			errs = append(errs, fmt.Errorf("embeddings_fallbacks[%d].api_key is required for the openai provider", i))
		default:
			validateProviderName(fb.Name)
		}
	}

	// MCP
	if cfg.MCP.Transport != "" && !cfg.MCP.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: stdio, http, off", cfg.MCP.Transport))
	}
	if cfg.MCP.Transport == MCPHTTP && cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if cfg.MCP.Transport != MCPOff && cfg.MCP.Transport != "" && cfg.Embeddings.Name == "" {
		slog.Warn("embeddings provider is not configured; memory tools will not be offered")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in
// [ValidEmbeddingProviders].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidEmbeddingProviders, name) {
		return
	}
	slog.Warn("unknown embeddings provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidEmbeddingProviders,
	)
}
