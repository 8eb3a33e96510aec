//go:build linux || darwin

package vscope

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/unix"
)

// port is a termios serial device. Reads poll the device together with a
// wake pipe so Close can interrupt a pending read.
type port struct {
	path    string
	fd      int
	f       *os.File
	wakeR   *os.File
	wakeW   *os.File
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func openPort(path string, cfg SerialConfig) (Port, error) {
	speed, ok := toUnixBaudrate[int(cfg.BaudRate)]
	if !ok {
		return nil, &Error{Kind: KindInvalidConfig, Path: path, Message: fmt.Sprintf("unsupported baud rate %d", cfg.BaudRate)}
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0o666)
	if err != nil {
		return nil, openError(path, err)
	}
	p := &port{path: path, fd: fd, f: os.NewFile(uintptr(fd), path), timeout: cfg.ReadTimeout}

	if err := p.configure(cfg, speed); err != nil {
		_ = p.Close()
		return nil, openError(path, err)
	}
	if err := flush(fd, ClearAll); err != nil {
		_ = p.Close()
		return nil, openError(path, err)
	}
	p.wakeR, p.wakeW, err = os.Pipe()
	if err != nil {
		_ = p.Close()
		return nil, openError(path, err)
	}
	_ = unix.SetNonblock(int(p.wakeR.Fd()), true)
	return p, nil
}

// configure puts the line in raw mode with the requested framing and no
// flow control.
func (p *port) configure(cfg SerialConfig, speed uint32) error {
	t, err := unix.IoctlGetTermios(p.fd, ioctlGetTermios)
	if err != nil {
		return fmt.Errorf("tcgetattr failed: %w", err)
	}
	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST | unix.ONLCR | unix.OCRNL
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IGNBRK | unix.INPCK | unix.ISTRIP
	setSpeed(t, speed)

	t.Cflag &^= unix.CSIZE
	switch cfg.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}

	if cfg.StopBits == gxcommon.StopBitsTwo {
		t.Cflag |= unix.CSTOPB
	} else {
		t.Cflag &^= unix.CSTOPB
	}

	t.Cflag &^= unix.PARENB | unix.PARODD
	switch cfg.Parity {
	case gxcommon.ParityEven:
		t.Cflag |= unix.PARENB
	case gxcommon.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	}

	t.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY
	t.Cflag &^= unix.CRTSCTS
	// Non-blocking reads are driven by poll.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(p.fd, ioctlSetTermios, t); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}
	return nil
}

func (p *port) isOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Read implements Port. It waits at most until deadline for the first byte
// and returns whatever is available then.
func (p *port) Read(buf []byte, deadline time.Time) (int, error) {
	if !p.isOpen() {
		return 0, os.ErrClosed
	}
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		ms := int((wait + time.Millisecond - 1) / time.Millisecond)
		pfds := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.wakeR.Fd()), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("poll %s: %w", p.path, err)
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			return 0, io.EOF
		}
		if n == 0 {
			return 0, os.ErrDeadlineExceeded
		}
		if pfds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && pfds[0].Revents&unix.POLLIN == 0 {
			return 0, fmt.Errorf("%s: device disconnected", p.path)
		}
		r, err := unix.Read(p.fd, buf)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", p.path, err)
		}
		if r == 0 {
			return 0, fmt.Errorf("%s: device disconnected", p.path)
		}
		return r, nil
	}
}

// Write implements Port.
func (p *port) Write(data []byte) (int, error) {
	if !p.isOpen() {
		return 0, os.ErrClosed
	}
	return p.f.Write(data)
}

// Clear implements Port.
func (p *port) Clear(which ClearBuffer) error {
	if !p.isOpen() {
		return os.ErrClosed
	}
	return flush(p.fd, which)
}

// Drain waits until all written bytes have been transmitted.
func (p *port) Drain() error {
	if !p.isOpen() {
		return os.ErrClosed
	}
	return drain(p.fd)
}

// Timeout implements Port.
func (p *port) Timeout() time.Duration {
	return p.timeout
}

// Close wakes a pending Read and releases the device.
func (p *port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.wakeW != nil {
		_, _ = p.wakeW.Write([]byte{0})
		_ = p.wakeW.Close()
	}
	if p.wakeR != nil {
		_ = p.wakeR.Close()
	}
	return p.f.Close()
}

// openError classifies an open failure by errno.
func openError(path string, err error) *Error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ENOENT, unix.ENODEV, unix.ENXIO:
			return &Error{Kind: KindPortNotFound, Path: path, Err: err}
		case unix.EACCES, unix.EPERM, unix.EBUSY:
			return &Error{Kind: KindPortBusy, Path: path, Err: err}
		}
	}
	return &Error{Kind: KindIO, Path: path, Message: err.Error(), Err: err}
}
