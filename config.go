package vscope

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
)

// SerialConfig holds the line settings used when a device is opened.
// Flow control is always disabled.
type SerialConfig struct {
	BaudRate    gxcommon.BaudRate
	DataBits    int
	Parity      gxcommon.Parity
	StopBits    gxcommon.StopBits
	ReadTimeout time.Duration
}

// DefaultConfig returns 115200 8N1 with a one second read timeout.
func DefaultConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    gxcommon.BaudRate(115200),
		DataBits:    8,
		Parity:      gxcommon.ParityNone,
		StopBits:    gxcommon.StopBitsOne,
		ReadTimeout: time.Second,
	}
}

// Validate checks the settings before any port is created.
func (c SerialConfig) Validate() error {
	if c.BaudRate <= 0 {
		return invalidConfig("baud rate must be positive, got %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return invalidConfig("data bits must be 5..8, got %d", c.DataBits)
	}
	switch c.Parity {
	case gxcommon.ParityNone, gxcommon.ParityOdd, gxcommon.ParityEven:
	default:
		return invalidConfig("unsupported parity %v", c.Parity)
	}
	switch c.StopBits {
	case gxcommon.StopBitsOne, gxcommon.StopBitsTwo:
	default:
		return invalidConfig("unsupported stop bits %v", c.StopBits)
	}
	if c.ReadTimeout < 0 {
		return invalidConfig("read timeout must not be negative, got %s", c.ReadTimeout)
	}
	return nil
}

// String returns a short description such as "115200 8 None One 1000ms".
func (c SerialConfig) String() string {
	return fmt.Sprintf("%d %d %v %v %dms", c.BaudRate, c.DataBits, c.Parity, c.StopBits, c.ReadTimeout.Milliseconds())
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// Settings returns the configuration in the Gurux media settings format,
// prefixed by the port path when one is given.
func (c SerialConfig) Settings(path string) string {
	var b strings.Builder
	if path != "" {
		fmt.Fprintf(&b, "<Port>%s</Port>\n", xmlEscape(path))
	}
	if c.BaudRate != 0 {
		fmt.Fprintf(&b, "<Bps>%d</Bps>\n", c.BaudRate)
	}
	if c.DataBits != 0 {
		fmt.Fprintf(&b, "<ByteSize>%d</ByteSize>\n", c.DataBits)
	}
	if c.StopBits != 0 {
		fmt.Fprintf(&b, "<StopBits>%d</StopBits>\n", c.StopBits)
	}
	if c.Parity != 0 {
		fmt.Fprintf(&b, "<Parity>%d</Parity>\n", c.Parity)
	}
	if c.ReadTimeout != 0 {
		fmt.Fprintf(&b, "<ReadTimeout>%d</ReadTimeout>\n", c.ReadTimeout.Milliseconds())
	}
	return b.String()
}

// ParseSettings applies a settings string produced by Settings on top of
// base and returns the port path if one was present.
func ParseSettings(value string, base SerialConfig) (string, SerialConfig, error) {
	cfg := base
	var path string
	if strings.TrimSpace(value) == "" {
		return path, cfg, nil
	}
	dec := xml.NewDecoder(strings.NewReader("<root>" + value + "</root>"))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", base, invalidConfig("settings: %v", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local == "root" {
			continue
		}
		var v string
		if err := dec.DecodeElement(&v, &se); err != nil {
			return "", base, invalidConfig("settings: %v", err)
		}
		switch se.Name.Local {
		case "Port":
			path = v
		case "Bps":
			if n, aerr := strconv.Atoi(v); aerr == nil {
				cfg.BaudRate = gxcommon.BaudRate(n)
			} else if cfg.BaudRate, err = gxcommon.BaudRateParse(v); err != nil {
				return "", base, invalidConfig("invalid Bps value: %v", err)
			}
		case "ByteSize":
			if cfg.DataBits, err = strconv.Atoi(v); err != nil {
				return "", base, invalidConfig("invalid ByteSize value: %v", err)
			}
		case "StopBits":
			if n, aerr := strconv.Atoi(v); aerr == nil {
				cfg.StopBits = gxcommon.StopBits(n)
			} else if cfg.StopBits, err = gxcommon.StopBitsParse(v); err != nil {
				return "", base, invalidConfig("invalid StopBits value: %v", err)
			}
		case "Parity":
			if n, aerr := strconv.Atoi(v); aerr == nil {
				cfg.Parity = gxcommon.Parity(n)
			} else if cfg.Parity, err = gxcommon.ParityParse(v); err != nil {
				return "", base, invalidConfig("invalid Parity value: %v", err)
			}
		case "ReadTimeout":
			ms, err := strconv.Atoi(v)
			if err != nil {
				return "", base, invalidConfig("invalid ReadTimeout value: %v", err)
			}
			cfg.ReadTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	return path, cfg, nil
}
