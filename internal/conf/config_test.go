package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
server:
  host: 127.0.0.1
  port: 9090

database:
  host: db.internal
  port: 5432
  user: app
  password: secret
  dbname: carbon
  sslmode: disable

redis:
  host: cache.internal
  port: 6379
  db: 1

minio:
  endpoint: minio.internal:9000
  accesskey: ak
  secretkey: sk
  bucket: files

log:
  level: debug
  format: console
  output: console

quota:
  sweep_interval: 30m
  counter_retention: 72h
  dimensions:
    - name: uploads
      windows:
        - kind: day
          limit: 50
        - kind: minute
          limit: 5

idempotency:
  record_ttl: 12h
  exec_timeout: 2m
  required_scopes:
    - "POST /api/v1/orders"

ratelimit:
  enable: true
  max_requests: 200
  window_seconds: 30
  strategy: user
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "files", cfg.MinIO.Bucket)

	require.Len(t, cfg.Quota.Dimensions, 1)
	assert.Equal(t, "uploads", cfg.Quota.Dimensions[0].Name)
	require.Len(t, cfg.Quota.Dimensions[0].Windows, 2)
	assert.Equal(t, "day", cfg.Quota.Dimensions[0].Windows[0].Kind)
	assert.Equal(t, int64(50), cfg.Quota.Dimensions[0].Windows[0].Limit)
	assert.Equal(t, 30*time.Minute, cfg.Quota.SweepInterval)
	assert.Equal(t, 72*time.Hour, cfg.Quota.CounterRetention)

	assert.Equal(t, 12*time.Hour, cfg.Idempotency.RecordTTL)
	assert.Equal(t, 2*time.Minute, cfg.Idempotency.ExecTimeout)
	assert.Equal(t, []string{"POST /api/v1/orders"}, cfg.Idempotency.RequiredScopes)

	assert.True(t, cfg.RateLimit.Enable)
	assert.Equal(t, 200, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "user", cfg.RateLimit.Strategy)
}

func TestLoadConfig_Defaults(t *testing.T) {
	minimal := `
server:
  host: 0.0.0.0
  port: 8080
`
	cfg, err := LoadConfig(writeTestConfig(t, minimal))
	require.NoError(t, err)

	// 未配置的周期字段回落到默认值
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.RecordTTL)
	assert.Equal(t, 5*time.Minute, cfg.Idempotency.ExecTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Idempotency.SweepInterval)
	assert.Equal(t, time.Hour, cfg.Quota.SweepInterval)
	assert.Equal(t, 48*time.Hour, cfg.Quota.CounterRetention)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "app",
		Password: "pw", DBName: "carbon", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=app password=pw dbname=carbon sslmode=disable",
		cfg.DSN())
}
