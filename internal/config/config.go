package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the engram engine.
// Environment variables are parsed from the ENGRAM_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Storage driver selection: postgres, sqlite, or auto.
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"engram.db"`

	// Embedding provider used for memory adds and regeneration.
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"nomic-embed-text"`
	OllamaURL     string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`

	// Vector point-cache capacity (number of memory ids).
	VectorCacheEntries int64 `envconfig:"VECTOR_CACHE_ENTRIES" default:"10000"`

	// Maintenance cadence.
	DecayInterval         time.Duration `envconfig:"DECAY_INTERVAL" default:"6h"`
	TemporalDecayInterval time.Duration `envconfig:"TEMPORAL_DECAY_INTERVAL" default:"24h"`
	CleanupInterval       time.Duration `envconfig:"CLEANUP_INTERVAL" default:"12h"`
	TaskTimeout           time.Duration `envconfig:"TASK_TIMEOUT" default:"5m"`

	// Regeneration / reinforcement behaviour on query hits.
	RegenerationEnabled bool    `envconfig:"REGENERATION_ENABLED" default:"true"`
	ReinforceOnQuery    bool    `envconfig:"REINFORCE_ON_QUERY" default:"true"`
	ReinforceBoost      float64 `envconfig:"REINFORCE_BOOST" default:"0.05"`
}

// ResolveDefaults validates the driver selection and derives it when "auto":
// postgres when a DSN is configured, otherwise the embedded sqlite backend.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}
	allowed := map[string]bool{"postgres": true, "sqlite": true}
	if !allowed[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires ENGRAM_POSTGRES_DSN")
	}
	return nil
}

// New creates a Config by parsing ENGRAM_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("ENGRAM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("environment", string(cfg.Environment)).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Dur("decay_interval", cfg.DecayInterval).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Msg("configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config suitable for unit tests: embedded sqlite,
// short maintenance intervals, regeneration on.
func NewForTesting() *Config {
	return &Config{
		Environment:           EnvTesting,
		DBDriver:              "sqlite",
		SQLitePath:            ":memory:",
		EmbedProvider:         "mock",
		EmbedModel:            "mock",
		VectorCacheEntries:    1024,
		DecayInterval:         time.Minute,
		TemporalDecayInterval: time.Minute,
		CleanupInterval:       time.Minute,
		TaskTimeout:           30 * time.Second,
		RegenerationEnabled:   true,
		ReinforceOnQuery:      true,
		ReinforceBoost:        0.05,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }
