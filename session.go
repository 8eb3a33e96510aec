package vscope

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vscope/vscope-serial-go/capture"
)

// DefaultReadTimeout bounds a response wait when the port reports no read
// timeout of its own.
const DefaultReadTimeout = time.Second

// OpenFunc creates the port behind a new connection.
type OpenFunc func(path string, cfg SerialConfig) (Port, error)

// Session exposes the device operations of the host application: open,
// close, flush and send. All state lives in the Registry; a Session only
// carries options and may be shared by any number of goroutines.
type Session struct {
	reg           *Registry
	log           zerolog.Logger
	metrics       *Metrics
	capture       capture.Logger
	runID         string
	policy        CRCPolicy
	open          OpenFunc
	clearOnSend   bool
	fallback      time.Duration
	enumerateFunc func() ([]PortInfo, error)

	// paths remembers the device path of each handle for capture events.
	paths sync.Map
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for connection lifecycle and failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics records operation outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithCapture records every frame sent and received.
func WithCapture(l capture.Logger) Option {
	return func(s *Session) {
		if l == nil {
			l = capture.NoopLogger{}
		}
		s.capture = l
	}
}

// WithRunID sets the run id stamped on captured events.
func WithRunID(id string) Option {
	return func(s *Session) { s.runID = id }
}

// WithCRCPolicy selects how Send reacts to corrupted responses.
func WithCRCPolicy(p CRCPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithOpener replaces the platform serial port opener.
func WithOpener(fn OpenFunc) Option {
	return func(s *Session) { s.open = fn }
}

// WithClearBeforeSend controls whether Send discards stale input before
// writing a request. It is enabled by default.
func WithClearBeforeSend(enabled bool) Option {
	return func(s *Session) { s.clearOnSend = enabled }
}

// WithFallbackTimeout sets the response deadline used for ports whose
// configured timeout is zero.
func WithFallbackTimeout(d time.Duration) Option {
	return func(s *Session) { s.fallback = d }
}

// WithEnumerator replaces the platform port scan used by Enumerate.
func WithEnumerator(fn func() ([]PortInfo, error)) Option {
	return func(s *Session) { s.enumerateFunc = fn }
}

// NewSession returns a Session over reg. A nil reg selects Default().
func NewSession(reg *Registry, opts ...Option) *Session {
	if reg == nil {
		reg = Default()
	}
	s := &Session{
		reg:           reg,
		log:           zerolog.Nop(),
		capture:       capture.NoopLogger{},
		runID:         capture.NewRunID(),
		policy:        CRCStrict,
		open:          openPort,
		clearOnSend:   true,
		fallback:      DefaultReadTimeout,
		enumerateFunc: listPorts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the session operates on.
func (s *Session) Registry() *Registry {
	return s.reg
}

// RunID returns the id stamped on captured events.
func (s *Session) RunID() string {
	return s.runID
}

// Open validates cfg, opens path and registers the port under a new handle.
func (s *Session) Open(path string, cfg SerialConfig) (h Handle, err error) {
	defer func() { s.metrics.observeOp("open", err) }()
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	p, err := s.open(path, cfg)
	if err != nil {
		e := ioError(err)
		if e.Path == "" {
			e.Path = path
		}
		s.log.Warn().Err(e).Str("path", path).Msg("open failed")
		return 0, e
	}
	h, err = s.reg.Insert(p)
	if err != nil {
		_ = releasePort(p)
		return 0, err
	}
	s.paths.Store(h, path)
	s.metrics.setOpen(s.reg.Len())
	s.log.Info().Str("path", path).Uint64("handle", uint64(h)).Stringer("config", cfg).Msg("port opened")
	return h, nil
}

// Close releases the connection. Closing an unknown or already closed
// handle succeeds. If another goroutine is using the port, the port is
// released when that operation ends.
func (s *Session) Close(h Handle) error {
	removed, err := s.reg.Remove(h)
	if err != nil && KindOf(err) == KindInternal {
		s.metrics.observeOp("close", err)
		return err
	}
	s.paths.Delete(h)
	if removed {
		s.metrics.setOpen(s.reg.Len())
		if err != nil {
			s.log.Debug().Err(err).Uint64("handle", uint64(h)).Msg("close port")
		}
		s.log.Info().Uint64("handle", uint64(h)).Msg("port closed")
	}
	s.metrics.observeOp("close", nil)
	return nil
}

// Flush discards pending input and output on the connection.
func (s *Session) Flush(h Handle) (err error) {
	defer func() { s.metrics.observeOp("flush", err) }()
	return s.use(h, "flush", func(p Port) error {
		if err := p.Clear(ClearAll); err != nil {
			return ioError(err)
		}
		return nil
	})
}

// Send writes payload as one frame and waits for the response frame. The
// wait is bounded by the port's read timeout. The payload's first byte is
// the message type, so an empty payload is rejected.
func (s *Session) Send(h Handle, payload []byte) (resp []byte, err error) {
	defer func() { s.metrics.observeOp("send", err) }()
	if len(payload) == 0 {
		return nil, &Error{Kind: KindInvalidConfig, Handle: h, Message: "payload must include message type"}
	}
	frame, err := Encode(payload)
	if err != nil {
		return nil, err
	}
	err = s.use(h, "send", func(p Port) error {
		if s.clearOnSend {
			if err := p.Clear(ClearInput); err != nil {
				s.log.Debug().Err(err).Uint64("handle", uint64(h)).Msg("clear input before send")
			}
		}
		start := time.Now()
		if err := writeFull(p, frame); err != nil {
			return s.fail(h, start, ioError(err))
		}
		if d, ok := p.(Drainer); ok {
			if err := d.Drain(); err != nil {
				return s.fail(h, start, ioError(err))
			}
		}
		s.record(capture.Event{Timestamp: start, Handle: uint64(h), Direction: capture.DirectionOut, Frame: frame})

		timeout := p.Timeout()
		if timeout <= 0 {
			timeout = s.fallback
		}
		payload, stats, derr := decodeFrame(p, time.Now().Add(timeout), s.policy)
		elapsed := time.Since(start)
		if stats.Discarded > 0 || stats.FalseSyncs > 0 || stats.CrcErrors > 0 {
			s.log.Debug().
				Uint64("handle", uint64(h)).
				Int("discarded", stats.Discarded).
				Int("false_syncs", stats.FalseSyncs).
				Int("crc_errors", stats.CrcErrors).
				Msg("resynchronized")
		}
		s.metrics.observeExchange(len(frame), len(payload), stats, elapsed)
		if derr != nil {
			return s.fail(h, start, ioError(derr))
		}
		s.record(capture.Event{
			Timestamp: time.Now(),
			Handle:    uint64(h),
			Direction: capture.DirectionIn,
			Payload:   payload,
			Elapsed:   elapsed,
		})
		resp = payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Session) use(h Handle, op string, fn func(Port) error) error {
	err := s.reg.Use(h, op, fn)
	if err == nil {
		return nil
	}
	e := ioError(err)
	if e.Handle == 0 {
		e.Handle = h
	}
	switch e.Kind {
	case KindInvalidHandle:
		if e.Message != "" {
			s.paths.Delete(h)
			s.metrics.setOpen(s.reg.Len())
			s.log.Error().Uint64("handle", uint64(h)).Str("op", op).Msg(e.Message)
		}
	case KindTimeout, KindCrcMismatch:
		s.log.Debug().Err(e).Uint64("handle", uint64(h)).Str("op", op).Msg("exchange failed")
	default:
		s.log.Warn().Err(e).Uint64("handle", uint64(h)).Str("op", op).Msg("operation failed")
	}
	return e
}

func (s *Session) fail(h Handle, start time.Time, err *Error) error {
	s.record(capture.Event{
		Timestamp: time.Now(),
		Handle:    uint64(h),
		Direction: capture.DirectionIn,
		Error:     err.Error(),
		Elapsed:   time.Since(start),
	})
	return err
}

func (s *Session) record(e capture.Event) {
	e.RunID = s.runID
	if path, ok := s.paths.Load(Handle(e.Handle)); ok {
		e.Port = path.(string)
	}
	s.capture.Log(e)
}

// Enumerate lists the serial ports currently present on the host that
// match filter. It needs no handle and never touches open connections.
func (s *Session) Enumerate(filter Filter) ([]PortInfo, error) {
	ports, err := s.enumerateFunc()
	if err != nil {
		err = ioError(err)
		s.metrics.observeOp("enumerate", err)
		return nil, err
	}
	s.metrics.observeOp("enumerate", nil)
	return filter.Apply(ports), nil
}
