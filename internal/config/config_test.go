package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

redis:
  addr: "redis.internal:6380"

dynamodb:
  table_name: "relay-users-staging"
  region: "us-east-1"

conversions:
  base_url: "https://graph.example.com"
  app_id: "7751002"
  access_token: "test-token"
  timeout_seconds: 15
  enabled: true

retry:
  max_attempts: 5
  base_delay_ms: 250

attribution:
  device_record_ttl_hours: 168
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "relay-users-staging", cfg.DynamoDB.TableName)
	assert.Equal(t, "us-east-1", cfg.DynamoDB.Region)
	assert.Equal(t, "7751002", cfg.Conversions.AppID)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay())
	assert.Equal(t, 168*time.Hour, cfg.Attribution.DeviceRecordTTL())
	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: {}\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "attribution-relay-users", cfg.DynamoDB.TableName)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: {}\n"), 0644))

	t.Setenv("REDIS_ADDR", "override:6379")
	t.Setenv("CONVERSIONS_ACCESS_TOKEN", "env-token")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-token", cfg.Conversions.AccessToken)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateEnabledConversionsNeedCredentials(t *testing.T) {
	cfg := &Config{}
	cfg.Conversions.Enabled = true
	cfg.Conversions.BaseURL = "https://graph.example.com"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app_id")
}
