package vscope

import (
	"io"
	"sync/atomic"
	"time"
)

// PipePort is one end of an in-memory serial link created by NewPipe.
// Bytes written to one end are read from the other.
type PipePort struct {
	rx      *syncBuffer
	peer    *PipePort
	timeout atomic.Int64
	closed  atomic.Bool
}

// NewPipe returns two connected ports. Both ends use timeout as their
// configured read timeout.
func NewPipe(timeout time.Duration) (*PipePort, *PipePort) {
	a := &PipePort{rx: newSyncBuffer()}
	b := &PipePort{rx: newSyncBuffer()}
	a.peer, b.peer = b, a
	a.timeout.Store(int64(timeout))
	b.timeout.Store(int64(timeout))
	return a, b
}

// Read implements Port.
func (p *PipePort) Read(buf []byte, deadline time.Time) (int, error) {
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.rx.Read(buf, deadline)
}

// Write implements Port.
func (p *PipePort) Write(buf []byte) (int, error) {
	if p.closed.Load() || p.peer.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	p.peer.rx.Append(append([]byte(nil), buf...))
	return len(buf), nil
}

// Clear implements Port. Written bytes are delivered immediately, so only
// the input side holds anything to discard.
func (p *PipePort) Clear(which ClearBuffer) error {
	if which == ClearInput || which == ClearAll {
		p.rx.Reset()
	}
	return nil
}

// Timeout implements Port.
func (p *PipePort) Timeout() time.Duration {
	return time.Duration(p.timeout.Load())
}

// SetTimeout changes the configured read timeout.
func (p *PipePort) SetTimeout(d time.Duration) {
	p.timeout.Store(int64(d))
}

// Buffered returns the number of bytes waiting to be read.
func (p *PipePort) Buffered() int {
	return p.rx.Len()
}

// Close closes this end. The peer reads the remaining bytes and then io.EOF.
func (p *PipePort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.rx.Close()
	p.peer.rx.Close()
	return nil
}

// IsClosed reports whether Close was called on this end.
func (p *PipePort) IsClosed() bool {
	return p.closed.Load()
}
