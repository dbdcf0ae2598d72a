package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsUsableStandalone(t *testing.T) {
	cfg := Default()
	if cfg.BindAddr == "" {
		t.Errorf("expected a non-empty default bind address")
	}
	if cfg.Cache.BelowThresholdPercent != 20 {
		t.Errorf("expected default below-threshold 20, got %d", cfg.Cache.BelowThresholdPercent)
	}
}

func TestParseWorkers(t *testing.T) {
	workers, err := ParseWorkers("a=127.0.0.1:9001,b=127.0.0.1:9002")
	if err != nil {
		t.Fatalf("ParseWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(workers))
	}
	if workers[0].Name != "a" || workers[0].Addr != "127.0.0.1:9001" {
		t.Errorf("unexpected first worker: %+v", workers[0])
	}
}

func TestParseWorkersEmpty(t *testing.T) {
	workers, err := ParseWorkers("")
	if err != nil {
		t.Fatalf("ParseWorkers: %v", err)
	}
	if workers != nil {
		t.Errorf("expected nil workers for empty input, got %v", workers)
	}
}

func TestParseWorkersRejectsMalformedEntry(t *testing.T) {
	if _, err := ParseWorkers("noequalssign"); err == nil {
		t.Errorf("expected an error for an entry missing '='")
	}
}

func TestLoadAppliesTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cubestore.toml")
	contents := "bind_addr = \":15432\"\npreagg_schema = \"prod_pre_aggregations\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":15432" {
		t.Errorf("expected bind_addr overridden by file, got %q", cfg.BindAddr)
	}
	if cfg.PreaggSchema != "prod_pre_aggregations" {
		t.Errorf("expected preagg_schema overridden by file, got %q", cfg.PreaggSchema)
	}
}

func TestLoadWithoutPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != Default().BindAddr {
		t.Errorf("expected default bind_addr when no file/env given, got %q", cfg.BindAddr)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cubestore.toml")
	if err := os.WriteFile(path, []byte("bind_addr = \":1\"\n"), 0o600); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	t.Setenv("CUBESTORE_BIND_ADDR", ":2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":2" {
		t.Errorf("expected env var to take precedence over file, got %q", cfg.BindAddr)
	}
}
