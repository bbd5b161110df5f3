package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for loci-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords, API
// keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// AI holds the content-generation service configuration.
	AI AIConfig `yaml:"ai"`

	// Review holds scheduling-queue heuristics. These constants were tuned
	// empirically; deployments may need to revisit them.
	Review ReviewConfig `yaml:"review"`

	// Batch holds bounded-batch mutation limits.
	Batch BatchConfig `yaml:"batch"`

	// Jobs holds generation-pipeline retry behavior.
	Jobs JobsConfig `yaml:"jobs"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"loci"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"loci_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// AIConfig holds the generation-service endpoint configuration.
// Provider selects the client implementation: "openai" (any OpenAI-compatible
// endpoint) or "anthropic".
type AIConfig struct {
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"AI_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML

	// RequestTimeout bounds a single generation call. A timeout is treated
	// as a retryable network failure, not a fatal job state.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"AI_REQUEST_TIMEOUT" env-default:"90s"`

	// TargetPhrasingCount is how many phrasing variants Stage B requests per
	// concept. The service may return fewer; that is not a failure.
	TargetPhrasingCount int `yaml:"target_phrasing_count" env:"AI_TARGET_PHRASING_COUNT" env-default:"3"`

	// MaxConceptsPerJob caps Stage A output per generation request.
	MaxConceptsPerJob int `yaml:"max_concepts_per_job" env:"AI_MAX_CONCEPTS_PER_JOB" env-default:"20"`
}

// ReviewConfig holds queue-prioritization heuristics.
type ReviewConfig struct {
	// UrgentTierEpsilon is the retrievability band within which queue order
	// is randomized so the same concept does not always win ties.
	UrgentTierEpsilon float64 `yaml:"urgent_tier_epsilon" env:"REVIEW_URGENT_TIER_EPSILON" env-default:"0.05"`

	// FreshnessWindow is how long after creation a never-reviewed concept
	// receives a priority boost below all reviewed material.
	FreshnessWindow time.Duration `yaml:"freshness_window" env:"REVIEW_FRESHNESS_WINDOW" env-default:"72h"`

	// FreshnessHalfLife controls how fast the boost decays from -2 toward -1.
	FreshnessHalfLife time.Duration `yaml:"freshness_half_life" env:"REVIEW_FRESHNESS_HALF_LIFE" env-default:"24h"`
}

// BatchConfig holds bounded-batch mutation limits.
type BatchConfig struct {
	MaxPerBatch   int `yaml:"max_per_batch" env:"BATCH_MAX_PER_BATCH" env-default:"50"`
	MaxIterations int `yaml:"max_iterations" env:"BATCH_MAX_ITERATIONS" env-default:"100"`
}

// JobsConfig holds generation-pipeline step retry behavior.
type JobsConfig struct {
	MaxRetries     int           `yaml:"max_retries" env:"JOBS_MAX_RETRIES" env-default:"5"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"JOBS_INITIAL_BACKOFF" env-default:"2s"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"JOBS_MAX_BACKOFF" env-default:"30s"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv reads configuration from environment variables only.
// Used by tests and deployments without a config file.
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Review.UrgentTierEpsilon < 0 || c.Review.UrgentTierEpsilon > 1 {
		return fmt.Errorf("review.urgent_tier_epsilon %f out of range [0, 1]", c.Review.UrgentTierEpsilon)
	}
	if c.Review.FreshnessHalfLife <= 0 {
		return fmt.Errorf("review.freshness_half_life must be positive")
	}
	if c.Batch.MaxPerBatch < 1 {
		return fmt.Errorf("batch.max_per_batch must be at least 1")
	}
	if c.Batch.MaxIterations < 1 {
		return fmt.Errorf("batch.max_iterations must be at least 1")
	}
	if c.AI.Provider != "openai" && c.AI.Provider != "anthropic" {
		return fmt.Errorf("ai.provider %q must be \"openai\" or \"anthropic\"", c.AI.Provider)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
