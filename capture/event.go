// Package capture records the frames exchanged with an instrument so a
// session can be replayed or inspected later.
package capture

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one captured exchange step. CBOR encoding uses integer keys.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	// RunID groups the events of one process or session.
	RunID     string    `cbor:"2,keyasint"`
	Handle    uint64    `cbor:"3,keyasint"`
	Port      string    `cbor:"4,keyasint,omitempty"`
	Direction Direction `cbor:"5,keyasint"`
	// Frame holds the raw wire bytes for sent frames.
	Frame []byte `cbor:"6,keyasint,omitempty"`
	// Payload holds the decoded payload for received frames.
	Payload []byte `cbor:"7,keyasint,omitempty"`
	// Error is set when the exchange failed instead of producing a frame.
	Error string `cbor:"8,keyasint,omitempty"`
	// Elapsed is the time since the request was written.
	Elapsed time.Duration `cbor:"9,keyasint,omitempty"`
}

// Direction indicates which way a frame travelled.
type Direction uint8

const (
	DirectionOut Direction = 0
	DirectionIn  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "OUT"
	case DirectionIn:
		return "IN"
	default:
		return "UNKNOWN"
	}
}

// NewRunID returns a fresh identifier for grouping events.
func NewRunID() string {
	return uuid.New().String()
}

// Logger receives captured events. Implementations must be safe for
// concurrent use.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

// MemoryLogger keeps events in memory. It is mostly useful in tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryLogger returns an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Log(event Event) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (m *MemoryLogger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
