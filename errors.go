package vscope

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/text/message"
)

// Kind classifies transport errors.
type Kind int

const (
	KindIO Kind = iota
	KindPortNotFound
	KindPortBusy
	KindInvalidHandle
	KindTimeout
	KindCrcMismatch
	KindInvalidConfig
	KindPayloadTooLarge
	KindInternal
)

var kindNames = map[Kind]string{
	KindIO:              "IoError",
	KindPortNotFound:    "PortNotFound",
	KindPortBusy:        "PortBusy",
	KindInvalidHandle:   "InvalidHandle",
	KindTimeout:         "Timeout",
	KindCrcMismatch:     "CrcMismatch",
	KindInvalidConfig:   "InvalidConfig",
	KindPayloadTooLarge: "PayloadTooLarge",
	KindInternal:        "Internal",
}

// String returns the tag used for the kind at the host boundary.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrIO              = errors.New("io error")
	ErrPortNotFound    = errors.New("port not found")
	ErrPortBusy        = errors.New("port busy")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrTimeout         = errors.New("timeout")
	ErrCrcMismatch     = errors.New("crc mismatch")
	ErrInvalidConfig   = errors.New("invalid config")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInternal        = errors.New("internal error")
)

var kindSentinels = map[Kind]error{
	KindIO:              ErrIO,
	KindPortNotFound:    ErrPortNotFound,
	KindPortBusy:        ErrPortBusy,
	KindInvalidHandle:   ErrInvalidHandle,
	KindTimeout:         ErrTimeout,
	KindCrcMismatch:     ErrCrcMismatch,
	KindInvalidConfig:   ErrInvalidConfig,
	KindPayloadTooLarge: ErrPayloadTooLarge,
	KindInternal:        ErrInternal,
}

// Error is the structured error returned by every transport operation.
// Path is set for open failures, Handle for operations on a connection.
type Error struct {
	Kind    Kind
	Path    string
	Handle  Handle
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPortNotFound:
		return "port not found: " + e.Path
	case KindPortBusy:
		return "port busy: " + e.Path
	case KindInvalidHandle:
		if e.Message != "" {
			return fmt.Sprintf("invalid handle: %d: %s", e.Handle, e.Message)
		}
		return fmt.Sprintf("invalid handle: %d", e.Handle)
	case KindTimeout:
		return "timeout"
	case KindCrcMismatch:
		if e.Message != "" {
			return "crc mismatch: " + e.Message
		}
		return "crc mismatch"
	case KindInvalidConfig:
		return "invalid config: " + e.Message
	case KindPayloadTooLarge:
		return "payload too large"
	case KindInternal:
		return "internal error: " + e.Message
	default:
		return "io error: " + e.Message
	}
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON encodes the error as {"type": kind, "data": {...}} for hosts
// that only understand serialized values.
func (e *Error) MarshalJSON() ([]byte, error) {
	type tagged struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data,omitempty"`
	}
	out := tagged{Type: e.Kind.String()}
	switch e.Kind {
	case KindPortNotFound, KindPortBusy:
		out.Data = map[string]any{"path": e.Path}
	case KindInvalidHandle:
		out.Data = map[string]any{"handleId": uint64(e.Handle)}
	case KindIO, KindInvalidConfig, KindInternal:
		out.Data = map[string]any{"message": e.Message}
	}
	return json.Marshal(out)
}

// Localize returns the error text in the language of the printer.
func (e *Error) Localize(p *message.Printer) string {
	switch e.Kind {
	case KindPortNotFound:
		return p.Sprintf("err.port_not_found", e.Path)
	case KindPortBusy:
		return p.Sprintf("err.port_busy", e.Path)
	case KindInvalidHandle:
		return p.Sprintf("err.invalid_handle", uint64(e.Handle))
	case KindTimeout:
		return p.Sprintf("err.timeout")
	case KindCrcMismatch:
		return p.Sprintf("err.crc_mismatch")
	case KindInvalidConfig:
		return p.Sprintf("err.invalid_config", e.Message)
	case KindPayloadTooLarge:
		return p.Sprintf("err.payload_too_large")
	case KindInternal:
		return p.Sprintf("err.internal", e.Message)
	default:
		return p.Sprintf("err.io", e.Message)
	}
}

// KindOf returns the kind of err. Errors not produced by this package are
// reported as KindIO.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

func invalidHandle(h Handle) *Error {
	return &Error{Kind: KindInvalidHandle, Handle: h}
}

func invalidConfig(format string, a ...any) *Error {
	return &Error{Kind: KindInvalidConfig, Message: fmt.Sprintf(format, a...)}
}

type timeoutError interface {
	Timeout() bool
}

// ioError classifies a lower level I/O failure. Deadline and timeout errors
// map to KindTimeout, everything else to KindIO.
func ioError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var te timeoutError
	if errors.As(err, &te) && te.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindIO, Message: err.Error(), Err: err}
}
