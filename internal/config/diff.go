package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Log level and layout are applied live; every other change is only
// reported so that the operator knows a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LayoutChanged bool
	NewLayout     LayoutConfig

	// RestartRequired lists the changed settings that are only read at
	// startup, as dotted YAML paths (e.g. "store.backend").
	RestartRequired []string
}

// Changed reports whether d carries any difference at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LayoutChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Layout != new.Layout {
		d.LayoutChanged = true
		d.NewLayout = new.Layout
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("store", old.Store != new.Store)
	restart("memory", old.Memory != new.Memory)
	restart("embeddings", !sameProvider(old.Embeddings, new.Embeddings))
	restart("embeddings_fallbacks", !slices.EqualFunc(old.EmbeddingsFallbacks, new.EmbeddingsFallbacks, sameProvider))
	restart("mcp", old.MCP != new.MCP)

	return d
}

// sameProvider compares the scalar fields of two entries. Options are
// compared by key presence only.
func sameProvider(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k := range a.Options {
		if _, ok := b.Options[k]; !ok {
			return false
		}
	}
	return true
}
