package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "*/5 * * * *", cfg.Schedule.Cron)
	assert.Equal(t, float64(80), cfg.Thresholds.CPUPercent)
	assert.Equal(t, float64(85), cfg.Thresholds.MemoryPercent)
	assert.Equal(t, float64(90), cfg.Thresholds.DiskPercent)
	assert.Equal(t, 8000, cfg.Monitor.Port)
	assert.Equal(t, 30*time.Minute, cfg.Monitor.DedupWindow)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Heartbeat.Timeout)
	assert.NotEmpty(t, cfg.Agent.ID, "agent id should default to hostname")
}

func TestLoadMergesUserYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
agent:
  id: edge-7
  monitor_url: http://monitor:8000
thresholds:
  cpu_percent: 70
monitor:
  port: 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-7", cfg.Agent.ID)
	assert.Equal(t, "http://monitor:8000", cfg.Agent.MonitorURL)
	assert.Equal(t, float64(70), cfg.Thresholds.CPUPercent)
	// Unset values keep their defaults.
	assert.Equal(t, float64(85), cfg.Thresholds.MemoryPercent)
	assert.Equal(t, 9000, cfg.Monitor.Port)
	assert.Equal(t, "*/5 * * * *", cfg.Schedule.Cron)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, `
monitor:
  port: 9000
  registration_token: from-yaml
`)
	t.Setenv("CORTEX_MONITOR_PORT", "9100")
	t.Setenv("CORTEX_REGISTRATION_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Monitor.Port)
	assert.Equal(t, "from-env", cfg.Monitor.RegistrationToken)
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_MONITOR_HOST", "monitor.internal")
	path := writeConfig(t, `
agent:
  monitor_url: http://{{.TEST_MONITOR_HOST}}:8000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://monitor.internal:8000", cfg.Agent.MonitorURL)
}

func TestValidateMonitor(t *testing.T) {
	cfg := Default()
	err := ValidateMonitor(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration_token")

	cfg.Monitor.RegistrationToken = "token"
	err = ValidateMonitor(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_key")

	cfg.Auth.SecretKey = "secret"
	assert.NoError(t, ValidateMonitor(cfg))
}

func TestValidateProbe(t *testing.T) {
	cfg := Default()
	cfg.Agent.ID = "node-1"
	err := ValidateProbe(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor_url")

	cfg.Agent.MonitorURL = "http://monitor:8000"
	assert.NoError(t, ValidateProbe(cfg))
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Agent.APIKey = "sk_secret"
	cfg.Monitor.RegistrationToken = "reg-token"
	cfg.Auth.SecretKey = "jwt-secret"

	red := cfg.Redacted()
	assert.Equal(t, "[redacted]", red.Agent.APIKey)
	assert.Equal(t, "[redacted]", red.Monitor.RegistrationToken)
	assert.Equal(t, "[redacted]", red.Auth.SecretKey)
	// Original untouched.
	assert.Equal(t, "sk_secret", cfg.Agent.APIKey)
}
