package vscope

import (
	"io"
	"time"
)

// ClearBuffer selects which buffers Clear discards.
type ClearBuffer int

const (
	ClearInput ClearBuffer = iota
	ClearOutput
	ClearAll
)

func (c ClearBuffer) String() string {
	switch c {
	case ClearInput:
		return "input"
	case ClearOutput:
		return "output"
	default:
		return "all"
	}
}

// TimedReader is a byte source whose reads never block past deadline.
// A read that reaches the deadline without data returns 0, nil or a
// timeout error.
type TimedReader interface {
	Read(p []byte, deadline time.Time) (int, error)
}

// Port is the capability set the transport needs from a serial-like resource.
// Real serial ports, Pipe ends and test fakes implement it.
type Port interface {
	TimedReader
	Write(p []byte) (int, error)
	Clear(which ClearBuffer) error
	// Timeout returns the configured read timeout.
	Timeout() time.Duration
}

// Drainer is implemented by ports that can wait until written bytes have
// left the output queue.
type Drainer interface {
	Drain() error
}

func writeFull(p Port, data []byte) error {
	for len(data) > 0 {
		n, err := p.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}

func releasePort(p Port) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
