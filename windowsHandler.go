//go:build windows

package vscope

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type port struct {
	path    string
	h       windows.Handle
	ovRead  windows.Overlapped
	ovWrite windows.Overlapped
	closing windows.Handle
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

const (
	dcbFBinary = 1 << 0
	dcbFParity = 1 << 1
)

// DCB parity and stop bit values.
const (
	noParity   = 0
	oddParity  = 1
	evenParity = 2

	oneStopBit  = 0
	twoStopBits = 2
)

func (p *port) isOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.h != 0 && p.h != windows.InvalidHandle
}

func openPort(path string, cfg SerialConfig) (Port, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &Error{Kind: KindInvalidConfig, Message: "invalid serial port name"}
	}
	p := &port{path: path, timeout: cfg.ReadTimeout}

	closing, err := windows.CreateEvent(nil, 1, 0, nil) // manual-reset, initially clear
	if err != nil {
		return nil, openError(path, fmt.Errorf("CreateEvent(closing) failed: %w", err))
	}
	p.closing = closing

	name := path
	if !strings.HasPrefix(name, `\\.\`) {
		name = `\\.\` + name
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(name),
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		_ = p.Close()
		return nil, openError(path, err)
	}
	p.h = h

	if p.ovRead.HEvent, err = windows.CreateEvent(nil, 1, 0, nil); err != nil {
		_ = p.Close()
		return nil, openError(path, fmt.Errorf("CreateEvent(read) failed: %w", err))
	}
	if p.ovWrite.HEvent, err = windows.CreateEvent(nil, 1, 0, nil); err != nil {
		_ = p.Close()
		return nil, openError(path, fmt.Errorf("CreateEvent(write) failed: %w", err))
	}
	if err := p.updateSettings(cfg); err != nil {
		_ = p.Close()
		return nil, openError(path, err)
	}
	// A read completes as soon as one byte is available. The caller's
	// deadline is enforced by the overlapped wait.
	timeouts := windows.CommTimeouts{
		ReadIntervalTimeout:        0xFFFFFFFF,
		ReadTotalTimeoutMultiplier: 0xFFFFFFFF,
		ReadTotalTimeoutConstant:   0xFFFFFFFE,
	}
	if err := windows.SetCommTimeouts(p.h, &timeouts); err != nil {
		_ = p.Close()
		return nil, openError(path, fmt.Errorf("SetCommTimeouts failed: %w", err))
	}
	if err := p.Clear(ClearAll); err != nil {
		_ = p.Close()
		return nil, openError(path, err)
	}
	return p, nil
}

func (p *port) updateSettings(cfg SerialConfig) error {
	var d windows.DCB
	d.DCBlength = uint32(unsafe.Sizeof(d))
	if err := windows.GetCommState(p.h, &d); err != nil {
		return fmt.Errorf("GetCommState failed: %w", err)
	}
	d.BaudRate = uint32(cfg.BaudRate)
	d.ByteSize = byte(cfg.DataBits)
	switch cfg.Parity {
	case gxcommon.ParityOdd:
		d.Parity = oddParity
	case gxcommon.ParityEven:
		d.Parity = evenParity
	default:
		d.Parity = noParity
	}
	if cfg.StopBits == gxcommon.StopBitsTwo {
		d.StopBits = twoStopBits
	} else {
		d.StopBits = oneStopBit
	}
	d.Flags = dcbFBinary
	if d.Parity != noParity {
		d.Flags |= dcbFParity
	}
	// No flow control of any kind: CTS/DSR, XON/XOFF, RTS and DTR handshake
	// bits are all left clear.
	if err := windows.SetCommState(p.h, &d); err != nil {
		return fmt.Errorf("SetCommState failed: %w", err)
	}
	return nil
}

// Read implements Port.
func (p *port) Read(buf []byte, deadline time.Time) (int, error) {
	if !p.isOpen() {
		return 0, os.ErrClosed
	}
	if len(buf) == 0 {
		return 0, nil
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		return 0, os.ErrDeadlineExceeded
	}

	var n uint32
	_ = windows.ResetEvent(p.ovRead.HEvent)
	err := windows.ReadFile(p.h, buf, &n, &p.ovRead)
	if err == nil {
		if n == 0 {
			return 0, os.ErrDeadlineExceeded
		}
		return int(n), nil
	}
	if !errors.Is(err, windows.ERROR_IO_PENDING) {
		return 0, fmt.Errorf("read failed: %w", err)
	}

	ms := uint32((wait + time.Millisecond - 1) / time.Millisecond)
	handles := []windows.Handle{p.closing, p.ovRead.HEvent}
	idx, werr := windows.WaitForMultipleObjects(handles, false, ms)
	if werr != nil {
		_ = windows.CancelIoEx(p.h, &p.ovRead)
		_ = windows.GetOverlappedResult(p.h, &p.ovRead, &n, true)
		return 0, fmt.Errorf("read wait failed: %w", werr)
	}
	switch idx {
	case windows.WAIT_OBJECT_0:
		_ = windows.CancelIoEx(p.h, &p.ovRead)
		_ = windows.GetOverlappedResult(p.h, &p.ovRead, &n, true)
		return 0, io.EOF
	case windows.WAIT_OBJECT_0 + 1:
	default:
		// Timed out: cancel and collect anything that arrived meanwhile.
		_ = windows.CancelIoEx(p.h, &p.ovRead)
	}
	if gerr := windows.GetOverlappedResult(p.h, &p.ovRead, &n, true); gerr != nil {
		if errors.Is(gerr, windows.ERROR_OPERATION_ABORTED) {
			if n > 0 {
				return int(n), nil
			}
			return 0, os.ErrDeadlineExceeded
		}
		return 0, fmt.Errorf("read failed: %w", gerr)
	}
	if n == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return int(n), nil
}

// Write implements Port.
func (p *port) Write(data []byte) (int, error) {
	if !p.isOpen() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	var n uint32
	_ = windows.ResetEvent(p.ovWrite.HEvent)
	err := windows.WriteFile(p.h, data, &n, &p.ovWrite)
	if err == nil {
		return int(n), nil
	}
	if !errors.Is(err, windows.ERROR_IO_PENDING) {
		return 0, fmt.Errorf("write failed: %w", err)
	}
	handles := []windows.Handle{p.closing, p.ovWrite.HEvent}
	idx, werr := windows.WaitForMultipleObjects(handles, false, windows.INFINITE)
	if werr != nil {
		return 0, fmt.Errorf("write wait failed: %w", werr)
	}
	if idx == windows.WAIT_OBJECT_0 {
		_ = windows.CancelIoEx(p.h, &p.ovWrite)
		return 0, os.ErrClosed
	}
	if gerr := windows.GetOverlappedResult(p.h, &p.ovWrite, &n, true); gerr != nil {
		return 0, fmt.Errorf("write failed: %w", gerr)
	}
	return int(n), nil
}

// Clear implements Port.
func (p *port) Clear(which ClearBuffer) error {
	if !p.isOpen() {
		return os.ErrClosed
	}
	var flags uint32
	switch which {
	case ClearInput:
		flags = windows.PURGE_RXCLEAR | windows.PURGE_RXABORT
	case ClearOutput:
		flags = windows.PURGE_TXCLEAR | windows.PURGE_TXABORT
	default:
		flags = windows.PURGE_TXCLEAR | windows.PURGE_TXABORT | windows.PURGE_RXCLEAR | windows.PURGE_RXABORT
	}
	if err := windows.PurgeComm(p.h, flags); err != nil {
		return fmt.Errorf("PurgeComm failed: %w", err)
	}
	return nil
}

// Drain waits until all written bytes have been transmitted.
func (p *port) Drain() error {
	if !p.isOpen() {
		return os.ErrClosed
	}
	if err := windows.FlushFileBuffers(p.h); err != nil {
		return fmt.Errorf("FlushFileBuffers failed: %w", err)
	}
	return nil
}

// Timeout implements Port.
func (p *port) Timeout() time.Duration {
	return p.timeout
}

// Close implements io.Closer.
func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.closing != 0 {
		_ = windows.SetEvent(p.closing)
	}
	if p.h != 0 && p.h != windows.InvalidHandle {
		_ = windows.CancelIoEx(p.h, nil)
	}
	if p.ovRead.HEvent != 0 {
		_ = windows.CloseHandle(p.ovRead.HEvent)
		p.ovRead.HEvent = 0
	}
	if p.ovWrite.HEvent != 0 {
		_ = windows.CloseHandle(p.ovWrite.HEvent)
		p.ovWrite.HEvent = 0
	}
	var err error
	if p.h != 0 && p.h != windows.InvalidHandle {
		err = windows.CloseHandle(p.h)
		p.h = 0
	}
	if p.closing != 0 {
		_ = windows.CloseHandle(p.closing)
		p.closing = 0
	}
	return err
}

func openError(path string, err error) *Error {
	switch {
	case errors.Is(err, windows.ERROR_FILE_NOT_FOUND), errors.Is(err, windows.ERROR_PATH_NOT_FOUND):
		return &Error{Kind: KindPortNotFound, Path: path, Err: err}
	case errors.Is(err, windows.ERROR_ACCESS_DENIED), errors.Is(err, windows.ERROR_SHARING_VIOLATION):
		return &Error{Kind: KindPortBusy, Path: path, Err: err}
	}
	return &Error{Kind: KindIO, Path: path, Message: err.Error(), Err: err}
}

// listPorts reads the active COM ports from SERIALCOMM and attaches USB
// descriptors found under the USB enumerator.
func listPorts() ([]PortInfo, error) {
	const path = `HARDWARE\DEVICEMAP\SERIALCOMM`

	key, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return []PortInfo{}, nil
		}
		return nil, err
	}
	defer func() {
		_ = key.Close()
	}()

	valueNames, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	usb := usbPorts()
	ports := make([]PortInfo, 0, len(valueNames))
	for _, name := range valueNames {
		com, _, err := key.GetStringValue(name)
		if err != nil {
			continue
		}
		info, ok := usb[strings.ToUpper(com)]
		if !ok {
			info = PortInfo{PortType: PortTypeUnknown}
			lower := strings.ToLower(name)
			switch {
			case strings.Contains(lower, "bth"):
				info.PortType = PortTypeBluetooth
			case strings.Contains(lower, "serial"):
				info.PortType = PortTypePCI
			}
		}
		info.Path = com
		ports = append(ports, info)
	}
	return ports, nil
}

// usbPorts maps COM names to descriptors parsed from
// SYSTEM\CurrentControlSet\Enum\USB\VID_xxxx&PID_yyyy\<serial>.
func usbPorts() map[string]PortInfo {
	out := make(map[string]PortInfo)
	const base = `SYSTEM\CurrentControlSet\Enum\USB`
	root, err := registry.OpenKey(registry.LOCAL_MACHINE, base, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return out
	}
	defer root.Close()

	ids, err := root.ReadSubKeyNames(-1)
	if err != nil {
		return out
	}
	for _, id := range ids {
		vid, pid, ok := parseUSBID(id)
		if !ok {
			continue
		}
		devKey, err := registry.OpenKey(root, id, registry.ENUMERATE_SUB_KEYS)
		if err != nil {
			continue
		}
		instances, _ := devKey.ReadSubKeyNames(-1)
		for _, inst := range instances {
			k, err := registry.OpenKey(devKey, inst, registry.QUERY_VALUE)
			if err != nil {
				continue
			}
			mfg, _, _ := k.GetStringValue("Mfg")
			desc, _, _ := k.GetStringValue("DeviceDesc")
			_ = k.Close()

			params, err := registry.OpenKey(devKey, inst+`\Device Parameters`, registry.QUERY_VALUE)
			if err != nil {
				continue
			}
			com, _, err := params.GetStringValue("PortName")
			_ = params.Close()
			if err != nil || com == "" {
				continue
			}
			v, p := vid, pid
			info := PortInfo{
				VendorID:     &v,
				ProductID:    &p,
				Manufacturer: infString(mfg),
				Product:      infString(desc),
				PortType:     PortTypeUSB,
			}
			// Instance ids containing '&' are generated by Windows, not
			// device serial numbers.
			if !strings.Contains(inst, "&") {
				info.SerialNumber = inst
			}
			out[strings.ToUpper(com)] = info
		}
		_ = devKey.Close()
	}
	return out
}

// parseUSBID parses "VID_0403&PID_6001".
func parseUSBID(id string) (uint16, uint16, bool) {
	parts := strings.Split(strings.ToUpper(id), "&")
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "VID_") || !strings.HasPrefix(parts[1], "PID_") {
		return 0, 0, false
	}
	vid, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "VID_"), 16, 16)
	if err != nil {
		return 0, 0, false
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "PID_"), 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(vid), uint16(pid), true
}

// infString strips the "@oem.inf,%key%;" prefix of localized registry values.
func infString(s string) string {
	if i := strings.LastIndex(s, ";"); i >= 0 {
		return s[i+1:]
	}
	return s
}
