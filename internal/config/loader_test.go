package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.Store != StoreMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Engine.TickInterval != 30*time.Second || cfg.Engine.Workers != 4 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.yaml")
	body := `
http_port: 9090
store: sqlite
sqlite_dsn: "file:test.db"
engine:
  tick_interval: 10s
  workers: 8
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPPort != 9090 || cfg.Store != StoreSQLite {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Engine.TickInterval != 10*time.Second || cfg.Engine.Workers != 8 {
		t.Fatalf("engine values not applied: %+v", cfg.Engine)
	}
	// Absent keys keep their defaults.
	if cfg.Engine.ClaimTTL != 5*time.Minute {
		t.Fatalf("expected default claim ttl, got %v", cfg.Engine.ClaimTTL)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.yaml")
	if err := os.WriteFile(path, []byte("htp_port: 9090\n"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.yaml")
	if err := os.WriteFile(path, []byte("http_port: 9090\n"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("PANEL_HTTP_PORT", "7070")
	t.Setenv("PANEL_TICK_INTERVAL", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPPort != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.HTTPPort)
	}
	if cfg.Engine.TickInterval != 45*time.Second {
		t.Fatalf("expected env tick interval, got %v", cfg.Engine.TickInterval)
	}
}

func TestLoad_InvalidEnvAggregated(t *testing.T) {
	t.Setenv("PANEL_HTTP_PORT", "not-a-port")
	t.Setenv("PANEL_TICK_INTERVAL", "sideways")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for invalid environment values")
	}
	for _, name := range []string{"PANEL_HTTP_PORT", "PANEL_TICK_INTERVAL"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in error, got %v", name, err)
		}
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.HTTPPort = 0
	cfg.Store = "etcd"
	cfg.Engine.Workers = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"http_port", "store", "workers"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error, got %v", fragment, err)
		}
	}
}

func TestLoad_StoreDSNRequired(t *testing.T) {
	t.Setenv("PANEL_STORE", "postgres")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "postgres_dsn") {
		t.Fatalf("expected postgres_dsn error, got %v", err)
	}
}
