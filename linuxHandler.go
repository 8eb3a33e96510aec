//go:build linux

package vscope

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

// toUnixBaudrate maps a baud rate to the corresponding constant in the unix package.
var toUnixBaudrate = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
}

func setSpeed(t *unix.Termios, speed uint32) {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed
}

func flush(fd int, which ClearBuffer) error {
	q := unix.TCIOFLUSH
	switch which {
	case ClearInput:
		q = unix.TCIFLUSH
	case ClearOutput:
		q = unix.TCOFLUSH
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, q)
}

// drain is tcdrain: TCSBRK with a non-zero argument waits for the output
// queue to empty without sending a break.
func drain(fd int) error {
	return unix.IoctlSetInt(fd, unix.TCSBRK, 1)
}

// Device name patterns probed on Linux.
var ttyPatterns = []string{
	"ttyS*",
	"ttyUSB*",
	"ttyXRUSB*",
	"ttyACM*",
	"ttyAMA*",
	"rfcomm*",
	"ttyAP*",
}

func listPorts() ([]PortInfo, error) {
	return listPortsIn("/dev", "/sys")
}

// listPortsIn scans devRoot for serial devices and describes them from the
// sysfs tree rooted at sysRoot.
func listPortsIn(devRoot, sysRoot string) ([]PortInfo, error) {
	var ports []PortInfo
	for _, pattern := range ttyPatterns {
		matches, err := filepath.Glob(filepath.Join(devRoot, pattern))
		if err != nil {
			return nil, err
		}
		for _, device := range matches {
			if info, ok := describeTTY(sysRoot, device); ok {
				ports = append(ports, info)
			}
		}
	}
	return ports, nil
}

// describeTTY builds the PortInfo of device. Devices without a sysfs device
// link are placeholders (for example unused ttyS entries) and are skipped,
// except rfcomm which is a virtual bluetooth tty.
func describeTTY(sysRoot, device string) (PortInfo, bool) {
	name := filepath.Base(device)
	info := PortInfo{Path: device, PortType: PortTypeUnknown}
	if strings.HasPrefix(name, "rfcomm") {
		info.PortType = PortTypeBluetooth
		return info, true
	}

	devLink := filepath.Join(sysRoot, "class", "tty", name, "device")
	devDir, err := filepath.EvalSymlinks(devLink)
	if err != nil {
		return info, false
	}

	switch subsystemOf(devDir) {
	case "usb", "usb-serial":
		info.PortType = PortTypeUSB
	case "pci":
		info.PortType = PortTypePCI
	case "bluetooth":
		info.PortType = PortTypeBluetooth
	}

	// USB attributes live on the usb_device a few levels up the tree.
	if r, err := filepath.EvalSymlinks(sysRoot); err == nil {
		sysRoot = r
	}
	for dir := devDir; strings.HasPrefix(dir, sysRoot) && dir != sysRoot; dir = filepath.Dir(dir) {
		vid, ok := readHexAttr(filepath.Join(dir, "idVendor"))
		if !ok {
			continue
		}
		info.PortType = PortTypeUSB
		info.VendorID = &vid
		if pid, ok := readHexAttr(filepath.Join(dir, "idProduct")); ok {
			info.ProductID = &pid
		}
		info.Manufacturer = readAttr(filepath.Join(dir, "manufacturer"))
		info.Product = readAttr(filepath.Join(dir, "product"))
		info.SerialNumber = readAttr(filepath.Join(dir, "serial"))
		break
	}
	return info, true
}

func subsystemOf(devDir string) string {
	target, err := filepath.EvalSymlinks(filepath.Join(devDir, "subsystem"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readHexAttr(path string) (uint16, bool) {
	s := readAttr(path)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
