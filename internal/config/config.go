// Package config loads vscopectl settings from a TOML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Gurux/gxcommon-go"

	vscope "github.com/vscope/vscope-serial-go"
	"github.com/vscope/vscope-serial-go/internal/logging"
)

// Config is the resolved tool configuration.
type Config struct {
	Port            string
	Serial          vscope.SerialConfig
	CRCPolicy       vscope.CRCPolicy
	ClearBeforeSend bool

	LogLevel     string
	LogTimestamp *bool
	LogNoColor   *bool
	// LogFile additionally writes JSON logs to a rotated file.
	LogFile      string
	LogRotation  logging.Rotation

	CapturePath string
	MetricsAddr string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Serial:          vscope.DefaultConfig(),
		CRCPolicy:       vscope.CRCStrict,
		ClearBeforeSend: true,
	}
}

type fileConfig struct {
	Serial struct {
		Port            string `toml:"port"`
		Baud            int    `toml:"baud"`
		DataBits        int    `toml:"data_bits"`
		Parity          string `toml:"parity"`
		StopBits        int    `toml:"stop_bits"`
		ReadTimeout     string `toml:"read_timeout"`
		CRCPolicy       string `toml:"crc_policy"`
		ClearBeforeSend bool   `toml:"clear_before_send"`
	} `toml:"serial"`
	Log struct {
		Level     string `toml:"level"`
		Timestamp bool   `toml:"timestamp"`
		NoColor   bool   `toml:"no_color"`
		File      string `toml:"file"`
		MaxSizeMB int    `toml:"max_size_mb"`
		Backups   int    `toml:"max_backups"`
		MaxAge    int    `toml:"max_age_days"`
		Compress  bool   `toml:"compress"`
	} `toml:"log"`
	Capture struct {
		Path string `toml:"path"`
	} `toml:"capture"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// Load reads path on top of Default. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()
	s := raw.Serial
	if meta.IsDefined("serial", "port") {
		cfg.Port = strings.TrimSpace(s.Port)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.BaudRate = gxcommon.BaudRate(s.Baud)
	}
	if meta.IsDefined("serial", "data_bits") {
		cfg.Serial.DataBits = s.DataBits
	}
	if meta.IsDefined("serial", "parity") {
		p, err := ParseParity(s.Parity)
		if err != nil {
			return Config{}, err
		}
		cfg.Serial.Parity = p
	}
	if meta.IsDefined("serial", "stop_bits") {
		sb, err := ParseStopBits(s.StopBits)
		if err != nil {
			return Config{}, err
		}
		cfg.Serial.StopBits = sb
	}
	if meta.IsDefined("serial", "read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(s.ReadTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.Serial.ReadTimeout = d
	}
	if meta.IsDefined("serial", "crc_policy") {
		p, err := ParseCRCPolicy(s.CRCPolicy)
		if err != nil {
			return Config{}, err
		}
		cfg.CRCPolicy = p
	}
	if meta.IsDefined("serial", "clear_before_send") {
		cfg.ClearBeforeSend = s.ClearBeforeSend
	}

	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "timestamp") {
		v := raw.Log.Timestamp
		cfg.LogTimestamp = &v
	}
	if meta.IsDefined("log", "no_color") {
		v := raw.Log.NoColor
		cfg.LogNoColor = &v
	}
	if meta.IsDefined("log", "file") {
		cfg.LogFile = strings.TrimSpace(raw.Log.File)
	}
	cfg.LogRotation = logging.Rotation{
		MaxSizeMB:  raw.Log.MaxSizeMB,
		MaxBackups: raw.Log.Backups,
		MaxAgeDays: raw.Log.MaxAge,
		Compress:   raw.Log.Compress,
	}
	if meta.IsDefined("capture", "path") {
		cfg.CapturePath = strings.TrimSpace(raw.Capture.Path)
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.Metrics.Addr)
	}
	return cfg, nil
}

// Validate checks the resolved configuration.
func Validate(cfg Config) error {
	if err := cfg.Serial.Validate(); err != nil {
		return fmt.Errorf("serial config invalid: %w", err)
	}
	if cfg.MetricsAddr != "" && !strings.Contains(cfg.MetricsAddr, ":") {
		return fmt.Errorf("metrics addr %q must be host:port", cfg.MetricsAddr)
	}
	return nil
}

// ParseParity accepts none, odd and even.
func ParseParity(s string) (gxcommon.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n":
		return gxcommon.ParityNone, nil
	case "odd", "o":
		return gxcommon.ParityOdd, nil
	case "even", "e":
		return gxcommon.ParityEven, nil
	default:
		return gxcommon.ParityNone, fmt.Errorf("unsupported parity %q", s)
	}
}

// ParseStopBits accepts 1 and 2.
func ParseStopBits(n int) (gxcommon.StopBits, error) {
	switch n {
	case 1:
		return gxcommon.StopBitsOne, nil
	case 2:
		return gxcommon.StopBitsTwo, nil
	default:
		return gxcommon.StopBitsOne, fmt.Errorf("unsupported stop bits %d", n)
	}
}

// ParseCRCPolicy accepts strict and resync.
func ParseCRCPolicy(s string) (vscope.CRCPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return vscope.CRCStrict, nil
	case "resync", "lenient":
		return vscope.CRCResync, nil
	default:
		return vscope.CRCStrict, fmt.Errorf("unsupported crc policy %q", s)
	}
}
