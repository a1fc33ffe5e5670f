package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  cors_origins:
    - "https://sentinel.example.com"

database:
  url: "postgres://sentinel:pw@db:5432/sentinel"
  max_open_conns: 40

scheduler:
  poll_interval_ms: 30000
  batch_size: 250

workers:
  concurrency: 8
  job_timeout_seconds: 45

check_in:
  base_url: "https://sentinel.example.com"

letters:
  seal_key: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://sentinel.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres://sentinel:pw@db:5432/sentinel", cfg.Database.URL)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval())
	assert.Equal(t, 250, cfg.Scheduler.BatchSize)
	assert.Equal(t, 8, cfg.Workers.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Workers.JobTimeout())
	assert.Equal(t, "https://sentinel.example.com", cfg.CheckIn.BaseURL)
	assert.NotEmpty(t, cfg.Letters.SealKey)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval())
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.LeaseTTL())
	assert.Equal(t, 5, cfg.Workers.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Workers.JobTimeout())
	assert.Equal(t, "http://localhost:8080", cfg.CheckIn.BaseURL)
	assert.Equal(t, "sns", cfg.SMS.Provider)
	assert.False(t, cfg.Email.Enabled)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://env-db/sentinel")
	t.Setenv("REDIS_URL", "redis://env-redis:6379/0")
	t.Setenv("CHECK_IN_BASE_URL", "https://env.example.com")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("LETTER_SEAL_KEY", "ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "postgres://env-db/sentinel", cfg.Database.URL)
	assert.Equal(t, "redis://env-redis:6379/0", cfg.Redis.URL)
	assert.Equal(t, "https://env.example.com", cfg.CheckIn.BaseURL)
	assert.Equal(t, 12, cfg.Workers.Concurrency)
	assert.Equal(t, "ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00", cfg.Letters.SealKey)
}

func TestSMSGatewayURLSwitchesProvider(t *testing.T) {
	t.Setenv("SMS_GATEWAY_URL", "https://sms-gw.example.com/send")
	t.Setenv("SMS_GATEWAY_API_KEY", "gw-key")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "gateway", cfg.SMS.Provider)
	assert.True(t, cfg.SMS.Enabled)
	assert.Equal(t, "https://sms-gw.example.com/send", cfg.SMS.GatewayURL)
	assert.Equal(t, "gw-key", cfg.SMS.GatewayAPIKey)
}
