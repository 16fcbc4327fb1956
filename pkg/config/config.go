// Package config loads runtime settings from defaults, an optional YAML
// file, and environment variables, in that order of precedence (lowest
// first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable holding the YAML config path.
const PathEnv = "SIGNALS_CONFIG"

// Config holds every setting the binaries need.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Vector      VectorConfig      `yaml:"vector"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Batch       BatchConfig       `yaml:"batch"`
	Translation TranslationConfig `yaml:"translation"`
	NATS        NATSConfig        `yaml:"nats"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	LogLevel    string            `yaml:"logLevel"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"corsOrigin"`
}

// DatabaseConfig selects the record store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// VectorConfig selects the vector index. Backend is "qdrant" or "pgvector".
type VectorConfig struct {
	Backend    string `yaml:"backend"`
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
}

// LLMConfig configures the completion provider and the outbound guard.
type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"apiKey"`
	BaseURL       string        `yaml:"baseUrl"`
	Temperature   float32       `yaml:"temperature"`
	MaxTokens     int           `yaml:"maxTokens"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Burst         int           `yaml:"burst"`
	RetryAttempts int           `yaml:"retryAttempts"`
	BreakerFails  int           `yaml:"breakerFails"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
	BaseURL  string `yaml:"baseUrl"`
}

// BatchConfig holds scheduler defaults used when a request omits them.
type BatchConfig struct {
	Width       int           `yaml:"width"`
	Delay       time.Duration `yaml:"delay"`
	ItemTimeout time.Duration `yaml:"itemTimeout"`
}

type TranslationConfig struct {
	Target string `yaml:"target"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type Neo4jConfig struct {
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

var (
	completionProviders = map[string]bool{"openai": true, "anthropic": true, "google": true, "ollama": true}
	embeddingProviders  = map[string]bool{"openai": true, "google": true, "ollama": true}
	databaseDrivers     = map[string]bool{"sqlite": true, "postgres": true}
	vectorBackends      = map[string]bool{"qdrant": true, "pgvector": true}
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: "8080", CORSOrigin: "*"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "signals.db"},
		Vector: VectorConfig{
			Backend:    "qdrant",
			Addr:       "localhost:6334",
			Collection: "market_signals",
			Dimensions: 1536,
		},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			Temperature:   0.2,
			MaxTokens:     1024,
			Timeout:       30 * time.Second,
			RatePerSecond: 2,
			Burst:         3,
			RetryAttempts: 3,
			BreakerFails:  5,
		},
		Embedding:   EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"},
		Batch:       BatchConfig{Width: 5, Delay: time.Second, ItemTimeout: time.Minute},
		Translation: TranslationConfig{Target: "en"},
		NATS:        NATSConfig{},
		Neo4j:       Neo4jConfig{User: "neo4j"},
		LogLevel:    "info",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// SIGNALS_CONFIG (if set), then environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(PathEnv)); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	envOr := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	c.Server.Port = envOr("PORT", c.Server.Port)
	c.Server.CORSOrigin = envOr("CORS_ORIGIN", c.Server.CORSOrigin)
	c.Database.Driver = envOr("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = envOr("DATABASE_DSN", c.Database.DSN)
	c.Vector.Backend = envOr("VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.Addr = envOr("QDRANT_URL", c.Vector.Addr)
	c.Vector.Collection = envOr("VECTOR_COLLECTION", c.Vector.Collection)
	c.Vector.Dimensions = envInt(getenv, "VECTOR_DIMENSIONS", c.Vector.Dimensions)
	c.LLM.Provider = envOr("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = envOr("LLM_MODEL", c.LLM.Model)
	c.LLM.APIKey = envOr("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = envOr("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.RatePerSecond = envFloat(getenv, "LLM_RATE", c.LLM.RatePerSecond)
	c.LLM.Burst = envInt(getenv, "LLM_BURST", c.LLM.Burst)
	c.Embedding.Provider = envOr("EMBED_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = envOr("EMBED_MODEL", c.Embedding.Model)
	c.Embedding.APIKey = envOr("EMBED_API_KEY", envOr("LLM_API_KEY", c.Embedding.APIKey))
	c.Embedding.BaseURL = envOr("EMBED_BASE_URL", c.Embedding.BaseURL)
	c.Batch.Width = envInt(getenv, "BATCH_WIDTH", c.Batch.Width)
	c.Batch.Delay = envDuration(getenv, "BATCH_DELAY", c.Batch.Delay)
	c.Translation.Target = envOr("TRANSLATION_TARGET", c.Translation.Target)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
	c.Neo4j.URL = envOr("NEO4J_URL", c.Neo4j.URL)
	c.Neo4j.User = envOr("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Pass = envOr("NEO4J_PASS", c.Neo4j.Pass)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
}

func envInt(getenv func(string) string, key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
		return v
	}
	return fallback
}

func envFloat(getenv func(string) string, key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil {
		return v
	}
	return fallback
}

func envDuration(getenv func(string) string, key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(getenv(key))); err == nil {
		return v
	}
	return fallback
}

// Validate rejects unknown providers and nonsensical limits.
func (c Config) Validate() error {
	var errs []error
	if !completionProviders[c.LLM.Provider] {
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if !embeddingProviders[c.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if !databaseDrivers[c.Database.Driver] {
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if !vectorBackends[c.Vector.Backend] {
		errs = append(errs, fmt.Errorf("vector.backend %q is not supported", c.Vector.Backend))
	}
	if c.Vector.Backend == "pgvector" && c.Database.Driver != "postgres" {
		errs = append(errs, errors.New("vector.backend pgvector requires database.driver postgres"))
	}
	if c.Vector.Dimensions <= 0 {
		errs = append(errs, errors.New("vector.dimensions must be positive"))
	}
	if c.Batch.Width < 1 {
		errs = append(errs, errors.New("batch.width must be at least 1"))
	}
	if c.Batch.Delay < 0 {
		errs = append(errs, errors.New("batch.delay must not be negative"))
	}
	if c.LLM.RatePerSecond <= 0 {
		errs = append(errs, errors.New("llm.ratePerSecond must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
