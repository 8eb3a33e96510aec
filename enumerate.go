package vscope

import (
	"sort"
	"strings"
)

// PortType describes how a serial port is attached to the host.
type PortType string

const (
	PortTypeUSB       PortType = "usb"
	PortTypeBluetooth PortType = "bluetooth"
	PortTypePCI       PortType = "pci"
	PortTypeUnknown   PortType = "unknown"
)

// PortInfo describes one serial port found by Enumerate. Absent USB
// attributes are left empty.
type PortInfo struct {
	Path         string   `json:"path"`
	VendorID     *uint16  `json:"vid,omitempty"`
	ProductID    *uint16  `json:"pid,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Product      string   `json:"product,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	PortType     PortType `json:"port_type"`
}

// Filter narrows an enumeration. Nil or empty fields match every port.
type Filter struct {
	VendorID  *uint16
	ProductID *uint16
	// Contains matches case-insensitively against path, manufacturer and
	// product.
	Contains string
}

// Match reports whether info satisfies the filter.
func (f Filter) Match(info PortInfo) bool {
	if f.VendorID != nil && (info.VendorID == nil || *info.VendorID != *f.VendorID) {
		return false
	}
	if f.ProductID != nil && (info.ProductID == nil || *info.ProductID != *f.ProductID) {
		return false
	}
	if f.Contains != "" {
		needle := strings.ToLower(f.Contains)
		if !strings.Contains(strings.ToLower(info.Path), needle) &&
			!strings.Contains(strings.ToLower(info.Manufacturer), needle) &&
			!strings.Contains(strings.ToLower(info.Product), needle) {
			return false
		}
	}
	return true
}

// Apply returns the ports matching the filter, sorted by path.
func (f Filter) Apply(ports []PortInfo) []PortInfo {
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Enumerate lists the serial ports present on this host that match filter.
func Enumerate(filter Filter) ([]PortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, ioError(err)
	}
	return filter.Apply(ports), nil
}
