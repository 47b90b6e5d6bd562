package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/realmkeeper/internal/config"
)

func defaults() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	if d := config.Diff(cfg, cfg); d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LiveSettings(t *testing.T) {
	t.Parallel()

	old, new := defaults(), defaults()
	new.Server.LogLevel = config.LogDebug
	new.Layout.Spacing = 300

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.LayoutChanged || d.NewLayout.Spacing != 300 {
		t.Errorf("layout diff = %v/%+v", d.LayoutChanged, d.NewLayout)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server.listen_addr"},
		{"log format", func(c *config.Config) { c.Server.LogFormat = config.LogFormatJSON }, "server.log_format"},
		{"store", func(c *config.Config) { c.Store.Backend = config.BackendSQLite }, "store"},
		{"memory", func(c *config.Config) { c.Memory.Overfetch = 50 }, "memory"},
		{"embeddings model", func(c *config.Config) { c.Embeddings.Model = "other" }, "embeddings"},
		{"embeddings options", func(c *config.Config) { c.Embeddings.Options = map[string]any{"k": 1} }, "embeddings"},
		{"mcp", func(c *config.Config) { c.MCP.Transport = config.MCPOff }, "mcp"},
		{"fallbacks", func(c *config.Config) {
			c.EmbeddingsFallbacks = []config.ProviderEntry{{Name: "ollama"}}
		}, "embeddings_fallbacks"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := defaults(), defaults()
			tc.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tc.want}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tc.want)
			}
			if d.LogLevelChanged || d.LayoutChanged {
				t.Errorf("unexpected live change: %+v", d)
			}
		})
	}
}
