package config

import (
	"os"
	"testing"
)

func TestConfigLoad_Defaults(t *testing.T) {
	_ = os.Unsetenv("ENGRAM_DB_DRIVER")
	_ = os.Unsetenv("ENGRAM_POSTGRES_DSN")
	_ = os.Unsetenv("ENGRAM_EMBED_MODEL")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected auto driver to resolve to sqlite without DSN, got %s", cfg.DBDriver)
	}
	if cfg.EmbedProvider != "ollama" || cfg.EmbedModel != "nomic-embed-text" {
		t.Fatalf("unexpected default embed config: %+v", cfg)
	}
}

func TestConfigLoad_AutoDriverWithDSN(t *testing.T) {
	_ = os.Setenv("ENGRAM_POSTGRES_DSN", "postgres://localhost/engram")
	defer func() { _ = os.Unsetenv("ENGRAM_POSTGRES_DSN") }()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("expected auto driver to resolve to postgres with DSN, got %s", cfg.DBDriver)
	}
}

func TestConfigLoad_PostgresRequiresDSN(t *testing.T) {
	_ = os.Setenv("ENGRAM_DB_DRIVER", "postgres")
	_ = os.Unsetenv("ENGRAM_POSTGRES_DSN")
	defer func() { _ = os.Unsetenv("ENGRAM_DB_DRIVER") }()

	if _, err := New(); err == nil {
		t.Fatalf("expected error for postgres driver without DSN")
	}
}

func TestConfigLoad_UnsupportedDriver(t *testing.T) {
	_ = os.Setenv("ENGRAM_DB_DRIVER", "oracle")
	defer func() { _ = os.Unsetenv("ENGRAM_DB_DRIVER") }()

	if _, err := New(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	_ = os.Setenv("ENGRAM_EMBED_MODEL", "test-model")
	defer func() { _ = os.Unsetenv("ENGRAM_EMBED_MODEL") }()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.EmbedModel != "test-model" {
		t.Fatalf("embed model env override failed, got %s", cfg.EmbedModel)
	}
}
