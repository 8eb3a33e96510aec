// Package vscope is the host side serial transport of the vscope
// instrument. It frames request payloads, writes them to a serial device and
// reads back exactly one response frame per request.
//
// Features
//   - Framing: sync byte 0xC8, length, payload and a CRC-8 integrity byte.
//   - Resynchronization: garbage and false sync bytes are skipped.
//   - Registry: opaque, never reused handles for open ports.
//   - Concurrency: different handles never block each other; requests on
//     one handle are serialized.
//   - Timeouts: every response wait is bounded by the port read timeout.
//   - Enumeration of the serial ports present on the host, with
//     USB vendor/product filters.
//
// # Wire format
//
//	+------+-----+---------------+-----+
//	| 0xC8 | LEN | payload (N)   | CRC |
//	+------+-----+---------------+-----+
//
// LEN is N+1 and CRC is Checksum(payload). The first payload byte is the
// message type.
//
// # Construction
//
// Use NewSession to operate on a Registry. Options add logging, metrics,
// frame capture or replace the serial port opener.
//
// Example
//
//	s := vscope.NewSession(vscope.Default(), vscope.WithLogger(log))
//	h, err := s.Open("/dev/ttyUSB0", vscope.DefaultConfig())
//	if err != nil {
//	    // handle open error
//	}
//	defer s.Close(h)
//	resp, err := s.Send(h, []byte{0x01})
//
// # Errors and timeouts
//
// Every operation returns *Error. Use errors.Is with the Err* sentinels or
// KindOf to classify a failure. Error.Localize renders the message with an
// x/text printer.
//
// # Notes
//
// A panic while a port is in use poisons that connection. The next operation
// on its handle evicts it and fails with KindInvalidHandle, so the device has
// to be opened again.
package vscope
