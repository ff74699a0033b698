package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 2*time.Second, cfg.Call.PollInterval)
	assert.Equal(t, 30, cfg.Call.PollMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Media.TokenTTL)
	assert.Equal(t, "local", cfg.Realtime.Backplane)
	assert.False(t, cfg.UseMemoryStore())
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9090"
database:
  store: memory
realtime:
  backplane: redis
  ws_send_buffer_size: 64
media:
  app_id: yaml-app
  token_ttl: 1h
callbacks:
  reminder_cron: "*/5 * * * *"
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("MEDIA_APP_ID", "env-app")
	t.Setenv("CALL_POLL_INTERVAL", "3")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.True(t, cfg.UseMemoryStore())
	assert.True(t, cfg.RedisBackplane())
	assert.Equal(t, 64, cfg.Realtime.SendBufferSize)
	assert.Equal(t, "env-app", cfg.Media.AppID)
	assert.Equal(t, time.Hour, cfg.Media.TokenTTL)
	assert.Equal(t, 3*time.Second, cfg.Call.PollInterval)
	assert.Equal(t, "*/5 * * * *", cfg.Callbacks.ReminderCron)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("MEDIA_APP_CERTIFICATE=from-dotenv\n"), 0o600))
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("ENV_FILE", envPath)
	t.Setenv("MEDIA_APP_CERTIFICATE", "")
	os.Unsetenv("MEDIA_APP_CERTIFICATE")

	cfg := Load()
	assert.Equal(t, "from-dotenv", cfg.Media.AppCertificate)
}

func TestValidateProductionRejectsDefaultDB(t *testing.T) {
	cfg := defaults()
	assert.Error(t, cfg.validateProduction())

	cfg.Database.URL = "postgres://prod"
	assert.NoError(t, cfg.validateProduction())
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	assert.Equal(t, 90*time.Second, envDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "5")
	assert.Equal(t, 5*time.Second, envDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "nope")
	assert.Equal(t, time.Second, envDuration("X_DUR", time.Second))
}
