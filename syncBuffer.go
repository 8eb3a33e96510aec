package vscope

import (
	"io"
	"os"
	"sync"
	"time"
)

// syncBuffer is a byte queue whose readers wait for data until a deadline.
type syncBuffer struct {
	mu     sync.Mutex
	buf    []byte
	wait   chan struct{}
	closed bool
}

func newSyncBuffer() *syncBuffer {
	return &syncBuffer{wait: make(chan struct{})}
}

// Append adds p to the queue and wakes waiting readers.
func (b *syncBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.buf = append(b.buf, p...)
	old := b.wait
	b.wait = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// Len returns the number of queued bytes.
func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Reset discards all queued bytes.
func (b *syncBuffer) Reset() {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
}

// Close wakes all readers. Queued bytes can still be read, after that
// reads return io.EOF.
func (b *syncBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	old := b.wait
	b.wait = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// Read copies queued bytes into p, waiting until deadline when the queue is
// empty. A zero deadline never waits.
func (b *syncBuffer) Read(p []byte, deadline time.Time) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		b.mu.Lock()
		if len(b.buf) != 0 {
			n := copy(p, b.buf)
			b.buf = b.buf[n:]
			b.mu.Unlock()
			return n, nil
		}
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		ch := b.wait
		b.mu.Unlock()

		rem := time.Until(deadline)
		if rem <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(rem)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return 0, os.ErrDeadlineExceeded
		}
	}
}
