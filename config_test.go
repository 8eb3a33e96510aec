package vscope

import (
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, gxcommon.BaudRate(115200), cfg.BaudRate)
	assert.Equal(t, 8, cfg.DataBits)
	assert.Equal(t, time.Second, cfg.ReadTimeout)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*SerialConfig){
		"zero baud":        func(c *SerialConfig) { c.BaudRate = 0 },
		"four data bits":   func(c *SerialConfig) { c.DataBits = 4 },
		"nine data bits":   func(c *SerialConfig) { c.DataBits = 9 },
		"mark parity":      func(c *SerialConfig) { c.Parity = gxcommon.ParityMark },
		"space parity":     func(c *SerialConfig) { c.Parity = gxcommon.ParitySpace },
		"negative timeout": func(c *SerialConfig) { c.ReadTimeout = -time.Millisecond },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfigValidateAccepts(t *testing.T) {
	cfg := SerialConfig{
		BaudRate:    gxcommon.BaudRate(9600),
		DataBits:    7,
		Parity:      gxcommon.ParityEven,
		StopBits:    gxcommon.StopBitsTwo,
		ReadTimeout: 0,
	}
	assert.NoError(t, cfg.Validate())
}

func TestSettingsRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaudRate = gxcommon.BaudRate(57600)
	cfg.DataBits = 7
	cfg.ReadTimeout = 250 * time.Millisecond

	s := cfg.Settings("/dev/tty<USB>0")
	assert.Contains(t, s, "<Port>/dev/tty&lt;USB&gt;0</Port>")
	assert.Contains(t, s, "<Bps>57600</Bps>")

	path, got, err := ParseSettings(s, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "/dev/tty<USB>0", path)
	assert.Equal(t, cfg.BaudRate, got.BaudRate)
	assert.Equal(t, 7, got.DataBits)
	assert.Equal(t, 250*time.Millisecond, got.ReadTimeout)
}

func TestParseSettingsEmpty(t *testing.T) {
	path, got, err := ParseSettings("  ", DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, DefaultConfig(), got)
}

func TestParseSettingsInvalid(t *testing.T) {
	base := DefaultConfig()
	_, got, err := ParseSettings("<ByteSize>eight</ByteSize>", base)
	require.Error(t, err)
	assert.Equal(t, KindInvalidConfig, KindOf(err))
	assert.Equal(t, base, got)

	_, _, err = ParseSettings("<ReadTimeout>soon</ReadTimeout>", base)
	assert.Equal(t, KindInvalidConfig, KindOf(err))
}
