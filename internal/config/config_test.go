package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vscope "github.com/vscope/vscope-serial-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vscope.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
[serial]
port = "/dev/ttyACM0"
baud = 921600
data_bits = 7
parity = "even"
stop_bits = 2
read_timeout = "250ms"
crc_policy = "resync"
clear_before_send = false

[log]
level = "debug"
no_color = true

[capture]
path = "frames.cbor"

[metrics]
addr = "127.0.0.1:9464"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.Equal(t, gxcommon.BaudRate(921600), cfg.Serial.BaudRate)
	assert.Equal(t, 7, cfg.Serial.DataBits)
	assert.Equal(t, gxcommon.ParityEven, cfg.Serial.Parity)
	assert.Equal(t, gxcommon.StopBitsTwo, cfg.Serial.StopBits)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, vscope.CRCResync, cfg.CRCPolicy)
	assert.False(t, cfg.ClearBeforeSend)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.NotNil(t, cfg.LogNoColor)
	assert.True(t, *cfg.LogNoColor)
	assert.Nil(t, cfg.LogTimestamp)
	assert.Equal(t, "frames.cbor", cfg.CapturePath)
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[serial]
port = "COM3"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "COM3", cfg.Port)
	assert.Equal(t, vscope.DefaultConfig(), cfg.Serial)
	assert.Equal(t, vscope.CRCStrict, cfg.CRCPolicy)
	assert.True(t, cfg.ClearBeforeSend)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"parity":    "[serial]\nparity = \"mark\"\n",
		"stop bits": "[serial]\nstop_bits = 3\n",
		"timeout":   "[serial]\nread_timeout = \"soon\"\n",
		"data bits": "[serial]\ndata_bits = 9\n",
		"policy":    "[serial]\ncrc_policy = \"ignore\"\n",
		"metrics":   "[metrics]\naddr = \"9464\"\n",
		"unknown":   "[serial]\nflow_control = \"rtscts\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadLogFile(t *testing.T) {
	path := writeConfig(t, `
[log]
file = "/var/log/vscope/vscopectl.log"
max_size_mb = 50
max_backups = 3
compress = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/log/vscope/vscopectl.log", cfg.LogFile)
	assert.Equal(t, 50, cfg.LogRotation.MaxSizeMB)
	assert.Equal(t, 3, cfg.LogRotation.MaxBackups)
	assert.Zero(t, cfg.LogRotation.MaxAgeDays)
	assert.True(t, cfg.LogRotation.Compress)
}
