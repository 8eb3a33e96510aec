// Package emulator runs an in-process instrument that speaks the vscope wire
// protocol. It is used by tests and by vscopectl's emulate mode to exercise
// the transport without hardware.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	vscope "github.com/vscope/vscope-serial-go"
)

// MsgError is the message type of an error response. Its single data byte
// is one of the Err* codes.
const MsgError byte = 0xFF

// Error codes reported by the instrument.
const (
	ErrBadLen   byte = 1
	ErrBadParam byte = 2
	ErrRange    byte = 4
	ErrNotReady byte = 5
)

// DeviceError makes a handler answer with an error frame.
type DeviceError struct {
	Code byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %d", e.Code)
}

// HandlerFunc answers one request. req starts with the message type; the
// returned payload is sent back as is and must include a message type.
type HandlerFunc func(req []byte) ([]byte, error)

// Echo returns the request unchanged.
func Echo(req []byte) ([]byte, error) {
	return append([]byte(nil), req...), nil
}

// Reject answers every request with ErrBadParam.
func Reject([]byte) ([]byte, error) {
	return nil, &DeviceError{Code: ErrBadParam}
}

// pollInterval bounds each read so Run notices cancellation.
const pollInterval = 20 * time.Millisecond

// Emulator reads request frames from a port and writes one response frame
// for each of them.
type Emulator struct {
	port     vscope.Port
	parser   *vscope.Parser
	log      zerolog.Logger
	fallback HandlerFunc

	mu       sync.RWMutex
	handlers map[byte]HandlerFunc

	served atomic.Uint64
	failed atomic.Uint64
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithLogger sets the emulator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Emulator) { e.log = l }
}

// WithFallback sets the handler for message types without a registered
// handler. The default is Echo.
func WithFallback(fn HandlerFunc) Option {
	return func(e *Emulator) {
		if fn == nil {
			fn = Reject
		}
		e.fallback = fn
	}
}

// WithFrameTimeout sets the inter-byte timeout of the request parser.
func WithFrameTimeout(d time.Duration) Option {
	return func(e *Emulator) { e.parser.FrameTimeout = d }
}

// New returns an emulator serving port.
func New(port vscope.Port, opts ...Option) *Emulator {
	e := &Emulator{
		port:     port,
		parser:   vscope.NewParser(),
		log:      zerolog.Nop(),
		fallback: Echo,
		handlers: make(map[byte]HandlerFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle registers fn for msgType.
func (e *Emulator) Handle(msgType byte, fn HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[msgType] = fn
}

// Served returns the number of requests answered with a regular frame.
func (e *Emulator) Served() uint64 {
	return e.served.Load()
}

// Failed returns the number of requests answered with an error frame.
func (e *Emulator) Failed() uint64 {
	return e.failed.Load()
}

// Dropped returns the number of request frames discarded for a bad checksum.
func (e *Emulator) Dropped() int {
	return e.parser.Dropped
}

// Reply computes the response payload for one request payload.
func (e *Emulator) Reply(req []byte) []byte {
	if len(req) == 0 {
		e.failed.Add(1)
		return []byte{MsgError, ErrBadLen}
	}
	e.mu.RLock()
	fn, ok := e.handlers[req[0]]
	e.mu.RUnlock()
	if !ok {
		fn = e.fallback
	}

	resp, err := fn(req)
	if err == nil && len(resp) == 0 {
		err = &DeviceError{Code: ErrNotReady}
	}
	if err != nil {
		e.failed.Add(1)
		var de *DeviceError
		if errors.As(err, &de) {
			return []byte{MsgError, de.Code}
		}
		e.log.Warn().Err(err).Uint8("type", req[0]).Msg("handler failed")
		return []byte{MsgError, ErrNotReady}
	}
	e.served.Add(1)
	return resp
}

// Run serves requests until ctx is done or the port is closed.
func (e *Emulator) Run(ctx context.Context) error {
	buf := make([]byte, 512)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.port.Read(buf, time.Now().Add(pollInterval))
		if n > 0 {
			for _, req := range e.parser.Feed(buf[:n], time.Now()) {
				if werr := e.respond(req); werr != nil {
					if isClosed(werr) {
						return nil
					}
					return werr
				}
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
		case isClosed(err):
			return nil
		default:
			var ve *vscope.Error
			if errors.As(err, &ve) && ve.Kind == vscope.KindTimeout {
				continue
			}
			return err
		}
	}
}

func (e *Emulator) respond(req []byte) error {
	resp := e.Reply(req)
	frame, err := vscope.Encode(resp)
	if err != nil {
		e.log.Warn().Err(err).Int("len", len(resp)).Msg("response does not fit a frame")
		frame, _ = vscope.Encode([]byte{MsgError, ErrRange})
	}
	e.log.Debug().Hex("request", req).Hex("response", resp).Msg("exchange")
	for len(frame) > 0 {
		n, err := e.port.Write(frame)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		frame = frame[n:]
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}
