package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected http port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Database.Driver)
	}
	if cfg.Dispatch.Timeout != 5*time.Second {
		t.Fatalf("expected 5s dispatch timeout, got %s", cfg.Dispatch.Timeout)
	}
	if cfg.Dispatch.StepsPerPortion != 200 {
		t.Fatalf("expected 200 steps per portion, got %d", cfg.Dispatch.StepsPerPortion)
	}
	if cfg.Dispatch.DefaultMicrostepping != "16" {
		t.Fatalf("expected microstepping 16, got %q", cfg.Dispatch.DefaultMicrostepping)
	}
	if cfg.History.DisplayLimit != 20 {
		t.Fatalf("expected display limit 20, got %d", cfg.History.DisplayLimit)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
database:
  driver: postgres
  host: db.internal
dispatch:
  timeout: 2s
  default_device_id: F1
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FEEDER_DISPATCH_WORKERS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Driver != DriverPostgres || cfg.Database.Host != "db.internal" {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Dispatch.Timeout != 2*time.Second {
		t.Fatalf("expected 2s timeout, got %s", cfg.Dispatch.Timeout)
	}
	if cfg.Dispatch.DefaultDeviceID != "F1" {
		t.Fatalf("expected default device F1, got %q", cfg.Dispatch.DefaultDeviceID)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Fatalf("expected env override of workers to 4, got %d", cfg.Dispatch.Workers)
	}
	if got := cfg.Database.DSN(); got != "postgres://feeder:@db.internal:5432/feeder?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: mongo\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
