package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/realmkeeper/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
store:
  backend: sqlite
  sqlite_path: /tmp/world.db
`

const watcherUpdatedYAML = `
server:
  log_level: debug
store:
  backend: sqlite
  sqlite_path: /tmp/world.db
layout:
  spacing: 250
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var callbackCfg *config.Config
	var callbackDiff config.ConfigDiff
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(cfg *config.Config, d config.ConfigDiff) {
		mu.Lock()
		callbackCfg = cfg
		callbackDiff = d
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Give the initial poll a moment, then update the file.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherUpdatedYAML)

	// Wait for callback.
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()

	if callbackCfg == nil {
		t.Fatal("callback received nil config")
	}
	if callbackCfg.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", callbackCfg.Server.LogLevel, config.LogDebug)
	}
	if !callbackDiff.LogLevelChanged || !callbackDiff.LayoutChanged || callbackDiff.NewLayout.Spacing != 250 {
		t.Errorf("diff = %+v", callbackDiff)
	}
	if len(callbackDiff.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", callbackDiff.RestartRequired)
	}

	// Current should return the new config.
	cur := w.Current()
	if cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

// TestWatcher_NoCallback covers edits that must not reach the application:
// an invalid file keeps the previous config and a touch changes nothing.
func TestWatcher_NoCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		edit func(t *testing.T, path string)
	}{
		{name: "invalid file", edit: func(t *testing.T, path string) { writeFile(t, path, watcherInvalidYAML) }},
		{name: "unknown key", edit: func(t *testing.T, path string) { writeFile(t, path, watcherValidYAML+"npcs: []\n") }},
		{name: "touch only", edit: func(t *testing.T, path string) {
			later := time.Now().Add(time.Second)
			if err := os.Chtimes(path, later, later); err != nil {
				t.Fatalf("Chtimes: %v", err)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, cfgPath, watcherValidYAML)

			var mu sync.Mutex
			calls := 0
			w, err := config.NewWatcher(cfgPath, func(*config.Config, config.ConfigDiff) {
				mu.Lock()
				calls++
				mu.Unlock()
			}, config.WithInterval(50*time.Millisecond))
			if err != nil {
				t.Fatalf("NewWatcher: %v", err)
			}
			defer w.Stop()

			time.Sleep(100 * time.Millisecond)
			tc.edit(t, cfgPath)
			time.Sleep(300 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if calls != 0 {
				t.Errorf("callback fired %d times, want 0", calls)
			}
			if lvl := w.Current().Server.LogLevel; lvl != config.LogInfo {
				t.Errorf("Current() log_level = %q, want the previous %q", lvl, config.LogInfo)
			}
		})
	}
}

func TestWatcher_RestartRequiredChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	diffs := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(cfgPath, func(_ *config.Config, d config.ConfigDiff) {
		select {
		case diffs <- d:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherValidYAML+"mcp:\n  transport: stdio\n")

	select {
	case d := <-diffs:
		if d.LogLevelChanged || d.LayoutChanged {
			t.Errorf("unexpected live change: %+v", d)
		}
		if len(d.RestartRequired) != 1 || d.RestartRequired[0] != "mcp" {
			t.Errorf("RestartRequired = %v, want [mcp]", d.RestartRequired)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Multiple stops should not panic.
	w.Stop()
	w.Stop()
	w.Stop()
}
