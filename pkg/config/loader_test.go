package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notewave/collabd/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// chdirTemp runs the loader from an isolated directory so a developer's
// local config.yaml cannot leak into the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := config.Load(newTestLogger(), "config")
	if err != nil {
		t.Fatalf("Load with no file must fall back to defaults: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("Unexpected default address: %q", cfg.Server.Address)
	}
	if cfg.Server.ConnectionLimit.MaxPerUser != 5 || cfg.Server.ConnectionLimit.Mode != "cycle" {
		t.Errorf("Unexpected connection limit defaults: %+v", cfg.Server.ConnectionLimit)
	}
	if cfg.Transport.HeartbeatWindow != 30*time.Second {
		t.Errorf("Unexpected heartbeat window: %v", cfg.Transport.HeartbeatWindow)
	}
	if cfg.Collab.CursorStaleAfter != 3*time.Second {
		t.Errorf("Unexpected cursor staleness: %v", cfg.Collab.CursorStaleAfter)
	}
	if cfg.Collab.CursorSweepEvery != time.Second {
		t.Errorf("Unexpected sweep interval: %v", cfg.Collab.CursorSweepEvery)
	}
	if cfg.Collab.CursorMinInterval != 200*time.Millisecond {
		t.Errorf("Unexpected cursor rate gate: %v", cfg.Collab.CursorMinInterval)
	}
	if cfg.Collab.TypingTimeout != time.Second {
		t.Errorf("Unexpected typing timeout: %v", cfg.Collab.TypingTimeout)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Unexpected storage backend: %q", cfg.Storage.Backend)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Unexpected log level: %q", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
server:
  address: ":9090"
  connectionLimit:
    maxPerUser: 2
    mode: reject
collab:
  typingTimeout: 250ms
storage:
  backend: pebble
  path: /tmp/collab-test
log:
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := config.Load(newTestLogger(), "config")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("File value not applied: %q", cfg.Server.Address)
	}
	if cfg.Server.ConnectionLimit.MaxPerUser != 2 || cfg.Server.ConnectionLimit.Mode != "reject" {
		t.Errorf("File connection limit not applied: %+v", cfg.Server.ConnectionLimit)
	}
	if cfg.Collab.TypingTimeout != 250*time.Millisecond {
		t.Errorf("File typing timeout not applied: %v", cfg.Collab.TypingTimeout)
	}
	if cfg.Storage.Backend != "pebble" {
		t.Errorf("File storage backend not applied: %q", cfg.Storage.Backend)
	}
	// Unset keys keep their defaults.
	if cfg.Collab.CursorStaleAfter != 3*time.Second {
		t.Errorf("Default lost for unset key: %v", cfg.Collab.CursorStaleAfter)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("COLLABD_LOG_LEVEL", "error")
	t.Setenv("COLLABD_SERVER_ADDRESS", ":7070")

	cfg, err := config.Load(newTestLogger(), "config")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Env override not applied: %q", cfg.Log.Level)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("Env override not applied: %q", cfg.Server.Address)
	}
}
