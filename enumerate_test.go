package vscope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16(v uint16) *uint16 { return &v }

var samplePorts = []PortInfo{
	{Path: "/dev/ttyUSB1", VendorID: u16(0x0403), ProductID: u16(0x6001), Manufacturer: "FTDI", Product: "FT232R USB UART", SerialNumber: "A50285BI", PortType: PortTypeUSB},
	{Path: "/dev/ttyACM0", VendorID: u16(0x0483), ProductID: u16(0x5740), Manufacturer: "STMicroelectronics", Product: "Virtual COM Port", PortType: PortTypeUSB},
	{Path: "/dev/ttyS0", PortType: PortTypePCI},
	{Path: "/dev/rfcomm0", PortType: PortTypeBluetooth},
}

func paths(ports []PortInfo) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, p.Path)
	}
	return out
}

func TestFilterEmptyMatchesAllSorted(t *testing.T) {
	got := Filter{}.Apply(samplePorts)
	assert.Equal(t, []string{"/dev/rfcomm0", "/dev/ttyACM0", "/dev/ttyS0", "/dev/ttyUSB1"}, paths(got))
}

func TestFilterByUSBIDs(t *testing.T) {
	got := Filter{VendorID: u16(0x0483)}.Apply(samplePorts)
	assert.Equal(t, []string{"/dev/ttyACM0"}, paths(got))

	got = Filter{VendorID: u16(0x0403), ProductID: u16(0x6015)}.Apply(samplePorts)
	assert.Empty(t, got)

	got = Filter{ProductID: u16(0x6001)}.Apply(samplePorts)
	assert.Equal(t, []string{"/dev/ttyUSB1"}, paths(got))
}

func TestFilterContains(t *testing.T) {
	assert.Equal(t, []string{"/dev/ttyACM0"}, paths(Filter{Contains: "virtual com"}.Apply(samplePorts)))
	assert.Equal(t, []string{"/dev/ttyUSB1"}, paths(Filter{Contains: "ftdi"}.Apply(samplePorts)))
	assert.Equal(t, []string{"/dev/rfcomm0"}, paths(Filter{Contains: "RFCOMM"}.Apply(samplePorts)))
}

func TestPortInfoJSON(t *testing.T) {
	b, err := json.Marshal(samplePorts[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/dev/ttyS0","port_type":"pci"}`, string(b))

	b, err = json.Marshal(samplePorts[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"vid":1027`)
}
