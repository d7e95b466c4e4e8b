package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without DATABASE_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://tariff@localhost:5432/tariff")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "5440" {
		t.Errorf("port = %s, want 5440", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("worker count = %d, want 2", cfg.WorkerCount)
	}
	if cfg.Sources["federal_register"].Cadence != 24*time.Hour {
		t.Errorf("federal register cadence = %s, want 24h", cfg.Sources["federal_register"].Cadence)
	}
	domains := cfg.Allowlists()["federal_register"]
	if len(domains) == 0 || domains[0] != "federalregister.gov" {
		t.Errorf("federal register allowlist = %v", domains)
	}
}

func TestLoad_SourcesFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := `sources:
  federal_register:
    cadence: 6h
  custom_feed:
    cadence: 1h
    domains: [example.gov]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DATABASE_URL", "postgres://tariff@localhost:5432/tariff")
	t.Setenv("SOURCES_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sources["federal_register"].Cadence != 6*time.Hour {
		t.Errorf("overridden cadence = %s, want 6h", cfg.Sources["federal_register"].Cadence)
	}
	// The override keeps the built-in domain list when none is given.
	if len(cfg.Sources["federal_register"].Domains) == 0 {
		t.Error("override dropped the built-in domains")
	}
	if cfg.Sources["custom_feed"].Domains[0] != "example.gov" {
		t.Errorf("custom source = %+v", cfg.Sources["custom_feed"])
	}
}
