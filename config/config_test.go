package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.21", cfg.Inverter.Host)
	assert.Equal(t, 12345, cfg.Inverter.Port)
	assert.Equal(t, 1, cfg.Inverter.Address)
	assert.Equal(t, 3*time.Second, cfg.Inverter.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Inverter.Timeout)
	assert.False(t, cfg.Inverter.VerifyChecksum)
	assert.Equal(t, 8046, cfg.API.Port)
	assert.Equal(t, "solarmax", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
inverter:
  host: 10.0.0.5
  port: 12346
  address: 7
  timeout: 8s
  verify_checksum: true
mqtt:
  enabled: true
  broker: tcp://broker:1883
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Inverter.Host)
	assert.Equal(t, 12346, cfg.Inverter.Port)
	assert.Equal(t, 7, cfg.Inverter.Address)
	assert.Equal(t, 8*time.Second, cfg.Inverter.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Inverter.ConnectTimeout)
	assert.True(t, cfg.Inverter.VerifyChecksum)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SOLARMAX_INVERTER_HOST", "pv.local")
	t.Setenv("SOLARMAX_INVERTER_ADDRESS", "3")

	cfg, err := Load(writeConfig(t, "inverter:\n  host: 10.0.0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, "pv.local", cfg.Inverter.Host)
	assert.Equal(t, 3, cfg.Inverter.Address)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "inverter:\n  address: 300\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "inverter:\n  port: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "inverter:\n  timeout: 0s\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
