package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all settings for the telemetry agent and collector.
// Values come from an optional YAML file with environment overrides.
type Config struct {
	Env string `yaml:"env" env:"PAJAMA_ENV" env-default:"development"`

	Log struct {
		Level  string `yaml:"level" env:"PAJAMA_LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"PAJAMA_LOG_FORMAT" env-default:"console"`
	} `yaml:"log"`

	Agent     AgentConfig     `yaml:"agent"`
	Collector CollectorConfig `yaml:"collector"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AgentConfig configures the client-side event batcher.
type AgentConfig struct {
	CollectorURL string `yaml:"collector_url" env:"PAJAMA_COLLECTOR_URL" env-default:"http://localhost:8080"`
	APIKey       string `yaml:"api_key" env:"PAJAMA_API_KEY"`

	BatchSize          int  `yaml:"batch_size" env:"PAJAMA_BATCH_SIZE" env-default:"25"`
	FlushInterval      int  `yaml:"flush_interval" env:"PAJAMA_FLUSH_INTERVAL" env-default:"4"` // seconds
	RetryAttempts      int  `yaml:"retry_attempts" env:"PAJAMA_RETRY_ATTEMPTS" env-default:"3"`
	RetryDelayMs       int  `yaml:"retry_delay_ms" env:"PAJAMA_RETRY_DELAY_MS" env-default:"1000"`
	RequestTimeout     int  `yaml:"request_timeout" env:"PAJAMA_REQUEST_TIMEOUT" env-default:"10"` // seconds
	MaxOfflineEvents   int  `yaml:"max_offline_events" env:"PAJAMA_MAX_OFFLINE_EVENTS" env-default:"1000"`
	Compress           bool `yaml:"compress" env:"PAJAMA_COMPRESS" env-default:"true"`
	HealthPollInterval int  `yaml:"health_poll_interval" env:"PAJAMA_HEALTH_POLL_INTERVAL" env-default:"30"` // seconds

	StoragePath string `yaml:"storage_path" env:"PAJAMA_AGENT_STORAGE_PATH" env-default:"pajama-agent.db"`
}

// CollectorConfig configures the server-side ingestion endpoint.
type CollectorConfig struct {
	Port         int    `yaml:"port" env:"PAJAMA_COLLECTOR_PORT" env-default:"8080"`
	StoragePath  string `yaml:"storage_path" env:"PAJAMA_COLLECTOR_STORAGE_PATH" env-default:"pajama-collector.db"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" env:"PAJAMA_MAX_BODY_BYTES" env-default:"1048576"`
}

// RateWindow is one fixed-window rate limit: Max requests per WindowMs.
type RateWindow struct {
	WindowMs int `yaml:"window_ms"`
	Max      int `yaml:"max"`
}

// RateLimitConfig holds the per-endpoint-class limits. Classes are
// independent: the same client gets a separate counter in each.
type RateLimitConfig struct {
	Analytics RateWindow `yaml:"analytics"`
	Dreams    RateWindow `yaml:"dreams"`
	Parties   RateWindow `yaml:"parties"`
	Search    RateWindow `yaml:"search"`
}

// LoadConfig reads configuration from the given YAML file, falling back to
// environment variables and defaults when the file does not exist.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			cfg.applyRateLimitDefaults()
			return &cfg, cfg.validate()
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	cfg.applyRateLimitDefaults()
	return &cfg, cfg.validate()
}

// applyRateLimitDefaults fills in zero-valued rate limit classes.
// cleanenv cannot default nested struct fields per class, so the defaults
// live here instead of in tags.
func (c *Config) applyRateLimitDefaults() {
	def := func(rw *RateWindow, windowMs, max int) {
		if rw.WindowMs <= 0 {
			rw.WindowMs = windowMs
		}
		if rw.Max <= 0 {
			rw.Max = max
		}
	}
	def(&c.RateLimit.Analytics, 60_000, 300)
	def(&c.RateLimit.Dreams, 60_000, 10)
	def(&c.RateLimit.Parties, 60_000, 10)
	def(&c.RateLimit.Search, 60_000, 100)
}

func (c *Config) validate() error {
	if c.Agent.BatchSize <= 0 {
		return fmt.Errorf("agent batch_size must be positive, got %d", c.Agent.BatchSize)
	}
	if c.Agent.RetryAttempts <= 0 {
		return fmt.Errorf("agent retry_attempts must be positive, got %d", c.Agent.RetryAttempts)
	}
	if c.Agent.MaxOfflineEvents <= 0 {
		return fmt.Errorf("agent max_offline_events must be positive, got %d", c.Agent.MaxOfflineEvents)
	}
	if c.Collector.Port <= 0 || c.Collector.Port > 65535 {
		return fmt.Errorf("collector port out of range: %d", c.Collector.Port)
	}
	return nil
}
