package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
serial:
  device: /dev/ttyUSB0
  baud: 115200
mqtt:
  broker_uri: mqtts://broker.example.com:8883
  tls_enabled: true
  verify_server: true
device_id: bms-01
poll:
  live_period: 2s
  config_period: 30s
status:
  endpoint: http://localhost:8080/status
  period: 60s
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesNestedYAML(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "mqtts://broker.example.com:8883", cfg.MQTT.BrokerURI)
	assert.True(t, cfg.MQTT.TLSEnabled)
	assert.Equal(t, "bms-01", cfg.DeviceID)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPEMBlobsSkipsUnsetPaths(t *testing.T) {
	cfg := &Config{}
	ca, cert, key, err := cfg.PEMBlobs()
	require.NoError(t, err)
	assert.Nil(t, ca)
	assert.Nil(t, cert)
	assert.Nil(t, key)
}
