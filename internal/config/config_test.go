package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.GetCDPURL() != "http://127.0.0.1:9220" {
		t.Fatalf("GetCDPURL() = %q", cfg.GetCDPURL())
	}
	if cfg.TabURLFilter != "nseindia.com/option-chain" || !cfg.OpenTab || cfg.LaunchBrowser {
		t.Fatalf("tab settings = %q open=%v launch=%v", cfg.TabURLFilter, cfg.OpenTab, cfg.LaunchBrowser)
	}
	if len(cfg.PortCandidates) != 2 || cfg.PortCandidates[1] != "127.0.0.1:8192" {
		t.Fatalf("PortCandidates = %v", cfg.PortCandidates)
	}
	if cfg.Debounce() != 300*time.Millisecond || cfg.RefreshSettle() != 1500*time.Millisecond {
		t.Fatalf("timings = %v / %v", cfg.Debounce(), cfg.RefreshSettle())
	}
	if cfg.Radius != 5 || cfg.MaxRadius != 40 || !cfg.Centering || cfg.SymmetricPad {
		t.Fatalf("display = %+v", cfg)
	}
	if cfg.HistoryWindow() != 5*time.Minute || cfg.HistoryMax != 60 {
		t.Fatalf("history = %v / %d", cfg.HistoryWindow(), cfg.HistoryMax)
	}
	p := cfg.LocatePolicy()
	if p.Interval != 400*time.Millisecond || p.MaxAttempts != 30 || p.Backoff != 1.25 {
		t.Fatalf("LocatePolicy() = %+v", p)
	}
}

func TestLoadOverridesAndClamps(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OVERLAY_EVAL_TIMEOUT_MS", "200")
	t.Setenv("OVERLAY_STORE_BACKEND", "SQLite")
	t.Setenv("OVERLAY_PORT_CANDIDATES", " 127.0.0.1:9000 , ,127.0.0.1:9001")
	t.Setenv("OVERLAY_CENTERING", "false")
	t.Setenv("OVERLAY_RADIUS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.EvalTimeout() != time.Second {
		t.Fatalf("EvalTimeout() = %v; want 1s floor", cfg.EvalTimeout())
	}
	if cfg.StoreBackend != "sqlite" {
		t.Fatalf("StoreBackend = %q", cfg.StoreBackend)
	}
	if len(cfg.PortCandidates) != 2 || cfg.PortCandidates[0] != "127.0.0.1:9000" {
		t.Fatalf("PortCandidates = %v", cfg.PortCandidates)
	}
	if cfg.Centering {
		t.Fatal("Centering = true; want false")
	}
	if cfg.Radius != 5 {
		t.Fatalf("Radius = %d; want default for unparsable value", cfg.Radius)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OVERLAY_STORE_BACKEND", "mongo")
	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil; want backend error")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OVERLAY_MAX_RADIUS=12\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("OVERLAY_MAX_RADIUS") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.MaxRadius != 12 {
		t.Fatalf("MaxRadius = %d; want 12 from .env", cfg.MaxRadius)
	}
}

func TestSchemaDefaultsToBuiltIn(t *testing.T) {
	cfg := &Config{}
	s, err := cfg.Schema()
	if err != nil {
		t.Fatalf("Schema() = %v", err)
	}
	if s.Name != "nse-option-chain" {
		t.Fatalf("Schema().Name = %q", s.Name)
	}

	cfg.SchemaFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.Schema(); err == nil {
		t.Fatal("Schema() with a missing file = nil; want error")
	}
}
