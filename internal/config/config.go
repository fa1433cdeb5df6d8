// Package config loads engine configuration from a TOML file with
// environment variable overrides.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Database  DatabaseConfig          `toml:"database"`
	Bus       BusConfig               `toml:"bus"`
	Engine    EngineConfig            `toml:"engine"`
	Observer  ObserverConfig          `toml:"observer"`
	Providers map[string]ProviderConf `toml:"providers"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: "postgres", "sqlite", or "memory".
	Driver string `toml:"driver"`
	// URL is the postgres connection string.
	URL string `toml:"url"`
	// Path is the sqlite database file.
	Path string `toml:"path"`
}

type BusConfig struct {
	// Driver selects the broadcast backend: "nats" or "none".
	Driver string `toml:"driver"`
	URL    string `toml:"url"`
}

type EngineConfig struct {
	MaxSteps  int    `toml:"max_steps"`
	OllamaURL string `toml:"ollama_url"`
	OpenAIURL string `toml:"openai_url"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// ProviderConf provisions a static credential for one vendor, bypassing the
// credential table.
type ProviderConf struct {
	APIKey string `toml:"api_key"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite", Path: "overture.db"},
		Bus:      BusConfig{Driver: "none", URL: "nats://127.0.0.1:4222"},
		Engine:   EngineConfig{MaxSteps: 10},
		Observer: ObserverConfig{ServiceName: "overture"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "overture.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("OVERTURE_DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.URL = v
	}
	if v := os.Getenv("OVERTURE_NATS_URL"); v != "" {
		cfg.Bus.Driver = "nats"
		cfg.Bus.URL = v
	}
	if v := os.Getenv("OVERTURE_ANTHROPIC_API_KEY"); v != "" {
		setProvider(&cfg, "anthropic", v)
	}
	if v := os.Getenv("OVERTURE_OPENAI_API_KEY"); v != "" {
		setProvider(&cfg, "openai", v)
	}
	if v := os.Getenv("OVERTURE_OLLAMA_URL"); v != "" {
		cfg.Engine.OllamaURL = v
	}
	return cfg
}

func setProvider(cfg *Config, vendor, key string) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConf)
	}
	cfg.Providers[vendor] = ProviderConf{APIKey: key}
}
