package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.RecencyLimit != 20 || cfg.SemanticLimit != 10 {
		t.Fatalf("unexpected retrieval limits: %d/%d", cfg.RecencyLimit, cfg.SemanticLimit)
	}
	if cfg.DBPath != filepath.Join("data", "parley.db") {
		t.Fatalf("unexpected db path: %s", cfg.DBPath)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Fatalf("unexpected embedding dimension: %d", cfg.Embedding.Dimension)
	}
}

func TestFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	contents := "http_addr: \":9000\"\nrecency_limit: 5\nindex_interval: 10s\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PARLEY_CONFIG", path)
	t.Setenv("PARLEY_RECENCY_LIMIT", "7")

	cfg := Load()
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("file value not applied: %s", cfg.HTTPAddr)
	}
	if cfg.RecencyLimit != 7 {
		t.Fatalf("env should win over file, got %d", cfg.RecencyLimit)
	}
	if time.Duration(cfg.IndexInterval) != 10*time.Second {
		t.Fatalf("unexpected index interval: %s", time.Duration(cfg.IndexInterval))
	}
}
