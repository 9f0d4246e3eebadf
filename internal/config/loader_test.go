package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Host != "localhost" || cfg.Database.Port != 5432 || cfg.Database.DBName != "asset360" {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Server.Addr != ":8080" || !cfg.Server.Migrate || cfg.Server.Storage != "postgres" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if len(cfg.Schema.Paths) != 0 {
		t.Fatalf("expected no schema paths, got %v", cfg.Schema.Paths)
	}
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
database:
  host: db.internal
  port: 6543
  dbname: blame
server:
  addr: ":9090"
  allowed_origins:
    - https://asset360.example.org
schema:
  paths:
    - schemas/asset.yaml
  default_class: Signal
log:
  level: debug
  format: json
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 || cfg.Database.DBName != "blame" {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.User != "postgres" {
		t.Fatalf("expected unset keys to keep defaults, got user %q", cfg.Database.User)
	}
	if cfg.Server.Addr != ":9090" || len(cfg.Server.AllowedOrigins) != 1 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Schema.Paths) != 1 || cfg.Schema.DefaultClass != "Signal" {
		t.Fatalf("unexpected schema config: %+v", cfg.Schema)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database:\n  host: from-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("ASSET360_DATABASE_HOST", "from-env")
	t.Setenv("ASSET360_SERVER_MIGRATE", "false")
	t.Setenv("ASSET360_SERVER_STORAGE", "MEMORY")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "from-env" {
		t.Fatalf("expected env override, got %q", cfg.Database.Host)
	}
	if cfg.Server.Migrate {
		t.Fatalf("expected migrate to be disabled by env")
	}
	if cfg.Server.Storage != "memory" {
		t.Fatalf("expected storage override, got %q", cfg.Server.Storage)
	}
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database: [unclosed"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected malformed config to fail")
	}
}

func TestLoad_RejectsUnknownStorage(t *testing.T) {
	t.Setenv("ASSET360_SERVER_STORAGE", "redis")
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected unknown storage to fail")
	}
}
