package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/linemk/order-escrow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "config_test_*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func TestMustLoadByPath_Success(t *testing.T) {
	// обязательные переменные окружения
	t.Setenv("DB_PASSWORD", "mypassword")
	t.Setenv("JWT_SECRET", "mysecret")
	t.Setenv("CRON_SECRET", "cron-secret")
	t.Setenv("PORTONE_API_SECRET", "portone")

	content := `
env: "local"
log_level: "warn"
http_server:
  address: "localhost:8080"
  timeout: "4s"
  idle_timeout: "60s"
database:
  host: "localhost"
  port: 5432
  user: "postgres"
  name: "escrow"
jwt:
  token_ttl: 60
migrations:
  path: "./migrations"
redis:
  address: "localhost:6379"
rate_limit:
  default:
    limit: 30
    window: "1m"
  payment:
    limit: 5
    window: "1m"
gateway:
  base_url: "https://gateway.test"
  timeout: "5s"
cron:
  batch_size: 100
  concurrency: 4
orders:
  auto_confirm_after: "72h"
outbox:
  max_attempts: 5
`
	cfg := config.MustLoadByPath(writeConfig(t, content))

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "localhost:8080", cfg.HTTPServer.Address)
	assert.Equal(t, 4*time.Second, cfg.HTTPServer.Timeout)
	assert.Equal(t, "escrow", cfg.Database.Name)
	assert.Equal(t, "mypassword", cfg.Database.Password)
	assert.Equal(t, "mysecret", cfg.JWT.Secret)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, 5, cfg.RateLimit.Payment.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Payment.Window)
	assert.Equal(t, "https://gateway.test", cfg.Gateway.BaseURL)
	assert.Equal(t, "portone", cfg.Gateway.Secret)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "cron-secret", cfg.Cron.Secret)
	assert.Equal(t, 100, cfg.Cron.BatchSize)
	assert.Equal(t, 4, cfg.Cron.Concurrency)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 72*time.Hour, cfg.Orders.AutoConfirmAfter)
	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)
}

func TestMustLoadByPath_Defaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "mypassword")
	t.Setenv("JWT_SECRET", "mysecret")

	content := `
env: "prod"
database:
  user: "postgres"
  name: "escrow"
`
	cfg := config.MustLoadByPath(writeConfig(t, content))

	// секреты крона и шлюза не обязательны при старте
	assert.Empty(t, cfg.Cron.Secret)
	assert.Empty(t, cfg.Gateway.Secret)
	assert.Empty(t, cfg.Redis.Address)
	assert.Equal(t, 100, cfg.Cron.BatchSize)
	assert.Equal(t, 72*time.Hour, cfg.Orders.AutoConfirmAfter)
	assert.Equal(t, 3*time.Second, cfg.Notifications.Timeout)
	assert.Equal(t, 30, cfg.RateLimit.Default.Limit)
	assert.Equal(t, 8, cfg.Outbox.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Outbox.Lease)
	assert.Equal(t, 5*time.Minute, cfg.Cron.Timeout)
	assert.Empty(t, cfg.LogLevel)
}

func TestMustLoadByPath_FileNotFound(t *testing.T) {
	// Ожидаем панику, если файла не существует
	assert.Panics(t, func() {
		config.MustLoadByPath("non_existent_config.yaml")
	})
}
