package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Workers   WorkerConfig    `yaml:"workers"`
	CheckIn   CheckInConfig   `yaml:"check_in"`
	Email     EmailConfig     `yaml:"email"`
	SMS       SMSConfig       `yaml:"sms"`
	Letters   LetterConfig    `yaml:"letters"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// Lifetime returns the configured connection lifetime as a duration
func (c DatabaseConfig) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// RedisConfig holds the optional Redis connection configuration.
// Redis backs the scheduler lease, the release-runner lock, and public
// endpoint rate limiting; without it the platform falls back to Postgres
// advisory locks and unthrottled public endpoints (dev mode).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SchedulerConfig holds the sweep loop configuration
type SchedulerConfig struct {
	PollIntervalMs  int `yaml:"poll_interval_ms"`
	BatchSize       int `yaml:"batch_size"`
	LeaseTTLSeconds int `yaml:"lease_ttl_seconds"`
}

// PollInterval returns the sweep period as a duration
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// LeaseTTL returns the sweep lease lifetime as a duration
func (c SchedulerConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// WorkerConfig holds queue consumer configuration
type WorkerConfig struct {
	Concurrency       int `yaml:"concurrency"`
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"`
}

// JobTimeout returns the per-job wall-clock budget as a duration
func (c WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// CheckInConfig holds the public link configuration. BaseURL is the
// externally reachable origin the confirmation and trustee links point at.
type CheckInConfig struct {
	BaseURL string `yaml:"base_url"`
}

// EmailConfig holds AWS SES email transport configuration
type EmailConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SMSConfig holds SMS transport configuration. Provider selects between
// AWS SNS ("sns") and a generic HTTP gateway ("gateway").
type SMSConfig struct {
	Provider       string `yaml:"provider"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	GatewayURL     string `yaml:"gateway_url"`
	GatewayAPIKey  string `yaml:"gateway_api_key"`
	SenderID       string `yaml:"sender_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c SMSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LetterConfig holds final letter storage configuration. SealKey is the
// hex-encoded AES-256 key that seals letter bodies at rest.
type LetterConfig struct {
	SealKey string `yaml:"seal_key"`
}

// Load reads and parses the configuration file. A missing file is not an
// error: defaults plus environment variables carry a dev deployment.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"http://localhost:5173"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Scheduler.PollIntervalMs == 0 {
		cfg.Scheduler.PollIntervalMs = 60000
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.LeaseTTLSeconds == 0 {
		cfg.Scheduler.LeaseTTLSeconds = 90
	}
	if cfg.Workers.Concurrency == 0 {
		cfg.Workers.Concurrency = 5
	}
	if cfg.Workers.JobTimeoutSeconds == 0 {
		cfg.Workers.JobTimeoutSeconds = 30
	}
	if cfg.CheckIn.BaseURL == "" {
		cfg.CheckIn.BaseURL = "http://localhost:8080"
	}
	if cfg.Email.Region == "" {
		cfg.Email.Region = "us-east-1"
	}
	if cfg.Email.TimeoutSeconds == 0 {
		cfg.Email.TimeoutSeconds = 30
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = "Eternal Sentinel"
	}
	if cfg.SMS.Provider == "" {
		cfg.SMS.Provider = "sns"
	}
	if cfg.SMS.Region == "" {
		cfg.SMS.Region = cfg.Email.Region
	}
	if cfg.SMS.TimeoutSeconds == 0 {
		cfg.SMS.TimeoutSeconds = 15
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CHECK_IN_POLL_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Scheduler.PollIntervalMs = ms
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers.Concurrency = n
		}
	}
	if v := os.Getenv("CHECK_IN_BASE_URL"); v != "" {
		cfg.CheckIn.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Email.AccessKey = v
		cfg.Email.Enabled = true
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Email.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Email.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SES_FROM_NAME"); v != "" {
		cfg.Email.FromName = v
	}
	if v := os.Getenv("SMS_PROVIDER"); v != "" {
		cfg.SMS.Provider = v
	}
	if v := os.Getenv("AWS_SNS_REGION"); v != "" {
		cfg.SMS.Region = v
	}
	if v := os.Getenv("AWS_SNS_ACCESS_KEY"); v != "" {
		cfg.SMS.AccessKey = v
		cfg.SMS.Enabled = true
	}
	if v := os.Getenv("AWS_SNS_SECRET_KEY"); v != "" {
		cfg.SMS.SecretKey = v
	}
	if v := os.Getenv("SMS_GATEWAY_URL"); v != "" {
		cfg.SMS.GatewayURL = v
		cfg.SMS.Provider = "gateway"
		cfg.SMS.Enabled = true
	}
	if v := os.Getenv("SMS_GATEWAY_API_KEY"); v != "" {
		cfg.SMS.GatewayAPIKey = v
	}
	if v := os.Getenv("LETTER_SEAL_KEY"); v != "" {
		cfg.Letters.SealKey = v
	}

	return cfg, nil
}
