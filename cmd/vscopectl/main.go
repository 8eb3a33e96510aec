// Command vscopectl talks to a vscope instrument over a serial port.
//
//	vscopectl -l                          list serial ports
//	vscopectl -S /dev/ttyUSB0 -m 01       send one request, print the reply
//	vscopectl -S /dev/ttyUSB0 -i          interactive shell
//	vscopectl -emulate -i                 shell against a built-in emulator
//	vscopectl -dump frames.cbor           print a capture file
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	vscope "github.com/vscope/vscope-serial-go"
	"github.com/vscope/vscope-serial-go/capture"
	"github.com/vscope/vscope-serial-go/emulator"
	"github.com/vscope/vscope-serial-go/internal/config"
	"github.com/vscope/vscope-serial-go/internal/logging"
)

type options struct {
	configPath string
	port       string
	settings   string
	baudRate   int
	dataBits   int
	parity     string
	stopBits   int
	timeoutMS  int
	policy     string
	message    string
	lang       string
	logLevel   string
	logFile    string

	list     bool
	vid      string
	pid      string
	match    string
	asJSON   bool
	shell    bool
	emulate  bool
	capture  string
	dump     string
	metrics  string
	noClear  bool
	errsOnly bool
}

func parseFlags(args []string) (options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("vscopectl", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "TOML configuration file.")
	fs.StringVar(&o.port, "S", "", "Port name.")
	fs.StringVar(&o.settings, "settings", "", "Serial settings as XML (Port, Bps, ByteSize, StopBits, Parity, ReadTimeout).")
	fs.IntVar(&o.baudRate, "b", 0, "Baud rate.")
	fs.IntVar(&o.dataBits, "d", 0, "DataBits (5, 6, 7, 8).")
	fs.StringVar(&o.parity, "p", "", "Parity (None, Odd, Even).")
	fs.IntVar(&o.stopBits, "s", 0, "Stop bits (1, 2).")
	fs.IntVar(&o.timeoutMS, "t", -1, "Read timeout in milliseconds.")
	fs.StringVar(&o.policy, "crc", "", "CRC policy (strict, resync).")
	fs.StringVar(&o.message, "m", "", "Send message as hex, first byte is the message type.")
	fs.StringVar(&o.lang, "lang", "", "Used language.")
	fs.StringVar(&o.logLevel, "log", "", "Log level (trace, debug, info, warn, error, off).")
	fs.StringVar(&o.logFile, "logfile", "", "Also write JSON logs to this rotated file.")
	fs.BoolVar(&o.list, "l", false, "List serial ports.")
	fs.StringVar(&o.vid, "vid", "", "List only ports with this USB vendor id (hex).")
	fs.StringVar(&o.pid, "pid", "", "List only ports with this USB product id (hex).")
	fs.StringVar(&o.match, "match", "", "List only ports whose path, manufacturer or product contains this text.")
	fs.BoolVar(&o.asJSON, "json", false, "Print ports, replies and errors as JSON.")
	fs.BoolVar(&o.shell, "i", false, "Interactive shell.")
	fs.BoolVar(&o.emulate, "emulate", false, "Use a built-in emulated instrument instead of a serial port.")
	fs.StringVar(&o.capture, "capture", "", "Append sent and received frames to this CBOR file.")
	fs.StringVar(&o.dump, "dump", "", "Print the frames of a capture file and exit.")
	fs.BoolVar(&o.errsOnly, "errors", false, "With -dump, print only failed exchanges.")
	fs.StringVar(&o.metrics, "metrics", "", "Serve Prometheus metrics on this address.")
	fs.BoolVar(&o.noClear, "noclear", false, "Keep pending input before each request.")
	err := fs.Parse(args)
	return o, fs, err
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	o, fs, err := parseFlags(args)
	if err != nil {
		return 2
	}

	printer := vscope.NewPrinter(language.AmericanEnglish)
	if o.lang != "" {
		tag, err := language.Parse(o.lang)
		if err != nil {
			fmt.Fprintln(stderr, "error parsing language:", err)
			return 2
		}
		printer = vscope.NewPrinter(tag)
	}

	cfg, err := resolveConfig(o)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	log, logClose := newLogger(cfg, o, stderr)
	defer logClose()

	switch {
	case o.dump != "":
		return dumpCapture(o.dump, o.errsOnly, stdout, stderr)
	case o.list:
		return listPorts(o, printer, stdout, stderr)
	}
	if cfg.Port == "" && !o.emulate {
		fs.SetOutput(stderr)
		fs.PrintDefaults()
		return 2
	}
	if !o.shell && o.message == "" {
		fmt.Fprintln(stderr, "error: -m or -i is required")
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessOpts := []vscope.Option{
		vscope.WithLogger(log),
		vscope.WithCRCPolicy(cfg.CRCPolicy),
		vscope.WithClearBeforeSend(cfg.ClearBeforeSend),
	}
	if cfg.CapturePath != "" {
		fl, err := capture.NewFileLogger(cfg.CapturePath)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
		defer fl.Close()
		sessOpts = append(sessOpts, vscope.WithCapture(fl))
	}
	if cfg.MetricsAddr != "" {
		m := vscope.NewMetrics()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
		sessOpts = append(sessOpts, vscope.WithMetrics(m))
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer srv.Close()
	}
	if o.emulate {
		if cfg.Port == "" {
			cfg.Port = "emulator"
		}
		sessOpts = append(sessOpts,
			vscope.WithOpener(emulatedOpener(ctx, log)),
			vscope.WithEnumerator(func() ([]vscope.PortInfo, error) {
				return []vscope.PortInfo{{Path: cfg.Port, PortType: vscope.PortTypeUnknown}}, nil
			}),
		)
	}

	s := vscope.NewSession(vscope.Default(), sessOpts...)
	h, err := s.Open(cfg.Port, cfg.Serial)
	if err != nil {
		reportError(stderr, printer, err, o.asJSON)
		if ports, lerr := s.Enumerate(vscope.Filter{}); lerr == nil && len(ports) > 0 {
			fmt.Fprintln(stderr, printer.Sprintf("msg.available_ports"))
			for _, p := range ports {
				fmt.Fprintln(stderr, "  "+p.Path)
			}
		}
		return 1
	}
	defer func() {
		if err := s.Close(h); err != nil {
			fmt.Fprintln(stderr, "close failed:", err)
		}
	}()
	log.Debug().Msg(printer.Sprintf("msg.opened", cfg.Port, uint64(h)))

	if o.shell {
		if err := runShell(s, h, printer, stdout); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
		return 0
	}

	payload, err := parseHex(o.message)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	resp, err := s.Send(h, payload)
	if err != nil {
		reportError(stderr, printer, err, o.asJSON)
		return 1
	}
	printReply(stdout, resp, o.asJSON)
	return 0
}

// resolveConfig layers defaults, the config file and the command line flags.
func resolveConfig(o options) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.settings != "" {
		port, serial, err := vscope.ParseSettings(o.settings, cfg.Serial)
		if err != nil {
			return cfg, err
		}
		cfg.Serial = serial
		if port != "" {
			cfg.Port = port
		}
	}
	if o.port != "" {
		cfg.Port = o.port
	}
	if o.baudRate != 0 {
		cfg.Serial.BaudRate = gxcommon.BaudRate(o.baudRate)
	}
	if o.dataBits != 0 {
		cfg.Serial.DataBits = o.dataBits
	}
	if o.parity != "" {
		p, err := gxcommon.ParityParse(o.parity)
		if err != nil {
			return cfg, fmt.Errorf("error parsing parity: %w", err)
		}
		cfg.Serial.Parity = p
	}
	if o.stopBits != 0 {
		sb, err := config.ParseStopBits(o.stopBits)
		if err != nil {
			return cfg, err
		}
		cfg.Serial.StopBits = sb
	}
	if o.timeoutMS >= 0 {
		cfg.Serial.ReadTimeout = time.Duration(o.timeoutMS) * time.Millisecond
	}
	if o.policy != "" {
		p, err := config.ParseCRCPolicy(o.policy)
		if err != nil {
			return cfg, err
		}
		cfg.CRCPolicy = p
	}
	if o.noClear {
		cfg.ClearBeforeSend = false
	}
	if o.capture != "" {
		cfg.CapturePath = o.capture
	}
	if o.metrics != "" {
		cfg.MetricsAddr = o.metrics
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFile != "" {
		cfg.LogFile = o.logFile
	}
	return cfg, config.Validate(cfg)
}

// newLogger returns the tool logger and a function closing its log file.
func newLogger(cfg config.Config, o options, out io.Writer) (zerolog.Logger, func()) {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		lc.Level = lvl
	} else {
		lc.Level = zerolog.WarnLevel
	}
	if cfg.LogTimestamp != nil {
		lc.Timestamp = *cfg.LogTimestamp
	}
	if cfg.LogNoColor != nil {
		lc.NoColor = *cfg.LogNoColor
	}
	logging.ApplyEnvOverrides(&lc)
	if o.logLevel != "" {
		if lvl, ok := logging.ParseLevel(o.logLevel); ok {
			lc.Level = lvl
		}
	}
	if cfg.LogFile == "" {
		return logging.New(lc, out).With().Str("app", "vscopectl").Logger(), func() {}
	}
	file := logging.FileWriter(cfg.LogFile, cfg.LogRotation)
	l := logging.NewTee(lc, out, file).With().Str("app", "vscopectl").Logger()
	return l, func() { _ = file.Close() }
}

func listPorts(o options, printer *message.Printer, stdout, stderr io.Writer) int {
	filter := vscope.Filter{Contains: o.match}
	for _, f := range []struct {
		raw string
		dst **uint16
	}{{o.vid, &filter.VendorID}, {o.pid, &filter.ProductID}} {
		if f.raw == "" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(f.raw), "0x"), 16, 16)
		if err != nil {
			fmt.Fprintln(stderr, "error: invalid usb id:", f.raw)
			return 2
		}
		id := uint16(v)
		*f.dst = &id
	}

	ports, err := vscope.Enumerate(filter)
	if err != nil {
		reportError(stderr, printer, err, o.asJSON)
		return 1
	}
	if o.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ports)
		return 0
	}
	if len(ports) == 0 {
		fmt.Fprintln(stdout, printer.Sprintf("msg.no_ports"))
		return 0
	}
	fmt.Fprintln(stdout, printer.Sprintf("msg.available_ports"))
	for _, p := range ports {
		fmt.Fprintf(stdout, "  %-20s %-9s", p.Path, p.PortType)
		if p.VendorID != nil && p.ProductID != nil {
			fmt.Fprintf(stdout, " %04x:%04x", *p.VendorID, *p.ProductID)
		}
		if p.Manufacturer != "" || p.Product != "" {
			fmt.Fprintf(stdout, " %s %s", p.Manufacturer, p.Product)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// emulatedOpener connects every opened port to a fresh emulator.
func emulatedOpener(ctx context.Context, log zerolog.Logger) vscope.OpenFunc {
	return func(path string, cfg vscope.SerialConfig) (vscope.Port, error) {
		host, device := vscope.NewPipe(cfg.ReadTimeout)
		emu := emulator.New(device, emulator.WithLogger(log.With().Str("emulator", path).Logger()))
		go func() {
			if err := emu.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("emulator stopped")
			}
		}()
		return host, nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "", ",", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex message: %w", err)
	}
	return b, nil
}

func printReply(w io.Writer, resp []byte, asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": hex.EncodeToString(resp)})
		return
	}
	if len(resp) >= 2 && resp[0] == emulator.MsgError {
		fmt.Fprintf(w, "device error %d\n", resp[1])
		return
	}
	fmt.Fprintf(w, "%s\n", hex.EncodeToString(resp))
}

func reportError(w io.Writer, printer *message.Printer, err error, asJSON bool) {
	var e *vscope.Error
	if !errors.As(err, &e) {
		fmt.Fprintln(w, "error:", err)
		return
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(e)
		return
	}
	fmt.Fprintln(w, e.Localize(printer))
}
