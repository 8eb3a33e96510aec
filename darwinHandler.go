//go:build darwin

package vscope

import (
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

// toUnixBaudrate maps a baud rate to the corresponding constant in the unix package.
var toUnixBaudrate = map[int]uint32{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

func setSpeed(t *unix.Termios, speed uint32) {
	t.Ispeed = uint64(speed)
	t.Ospeed = uint64(speed)
}

func ioctlSetIntPointer(fd int, req uint, value int) error {
	v := value
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

func flush(fd int, which ClearBuffer) error {
	q := unix.TCIOFLUSH
	switch which {
	case ClearInput:
		q = unix.TCIFLUSH
	case ClearOutput:
		q = unix.TCOFLUSH
	}
	return ioctlSetIntPointer(fd, unix.TIOCFLUSH, q)
}

func drain(fd int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TIOCDRAIN), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// listPorts returns the callout devices. Without IOKit the USB descriptors
// are not available, so the type is inferred from the device name.
func listPorts() ([]PortInfo, error) {
	matches, err := filepath.Glob("/dev/cu.*")
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(matches))
	for _, device := range matches {
		name := strings.ToLower(filepath.Base(device))
		info := PortInfo{Path: device, PortType: PortTypeUnknown}
		switch {
		case strings.Contains(name, "usb"):
			info.PortType = PortTypeUSB
		case strings.Contains(name, "bluetooth"):
			info.PortType = PortTypeBluetooth
		}
		ports = append(ports, info)
	}
	return ports, nil
}
