package vscope

import (
	"fmt"
	"time"
)

// Protocol constants shared with the instrument firmware.
const (
	SyncByte byte = 0xC8
	// MinLenField and MaxLenField bound the LEN byte, which counts the
	// payload plus the trailing integrity byte.
	MinLenField = 2
	MaxLenField = 254
	// MaxPayloadLen is the largest payload Encode accepts.
	MaxPayloadLen = 252
)

// CRCPolicy selects how Decode treats a frame whose integrity byte does not
// match its payload.
type CRCPolicy int

const (
	// CRCStrict reports the mismatch to the caller immediately.
	CRCStrict CRCPolicy = iota
	// CRCResync drops the frame and keeps scanning until the deadline.
	CRCResync
)

func (p CRCPolicy) String() string {
	if p == CRCResync {
		return "resync"
	}
	return "strict"
}

// Encode wraps payload into a wire frame: sync, length, payload, checksum.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadLen {
		return nil, &Error{Kind: KindPayloadTooLarge, Message: fmt.Sprintf("payload length %d", len(payload))}
	}
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, SyncByte, byte(len(payload)+1))
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload))
	return frame, nil
}

// Decode reads one frame from src and returns its payload. Bytes before the
// sync byte and frames with an out of range length are skipped. The whole
// call is bounded by deadline.
func Decode(src TimedReader, deadline time.Time, policy CRCPolicy) ([]byte, error) {
	payload, _, err := decodeFrame(src, deadline, policy)
	return payload, err
}

// decodeStats describes the noise Decode had to skip.
type decodeStats struct {
	Discarded  int
	FalseSyncs int
	CrcErrors  int
}

func decodeFrame(src TimedReader, deadline time.Time, policy CRCPolicy) ([]byte, decodeStats, error) {
	s := frameScanner{src: src, deadline: deadline}
	for {
		b, err := s.readByte()
		if err != nil {
			return nil, s.stats, err
		}
		if b != SyncByte {
			s.stats.Discarded++
			continue
		}

		l, err := s.readByte()
		if err != nil {
			return nil, s.stats, err
		}
		if l < MinLenField || l > MaxLenField {
			s.stats.FalseSyncs++
			s.unread([]byte{l})
			continue
		}

		body := make([]byte, l)
		if err := s.readFull(body); err != nil {
			return nil, s.stats, err
		}
		payload, crc := body[:l-1], body[l-1]
		if calc := Checksum(payload); calc != crc {
			s.stats.CrcErrors++
			if policy == CRCStrict {
				return nil, s.stats, &Error{
					Kind:    KindCrcMismatch,
					Message: fmt.Sprintf("received 0x%02X, computed 0x%02X", crc, calc),
				}
			}
			// The sync byte may have been payload; rescan everything after it.
			s.unread(append([]byte{l}, body...))
			continue
		}
		return payload, s.stats, nil
	}
}

// frameScanner reads from a TimedReader with pushback, checking the deadline
// before every blocking read.
type frameScanner struct {
	src      TimedReader
	deadline time.Time
	pending  []byte
	stats    decodeStats
}

func (s *frameScanner) unread(b []byte) {
	s.pending = append(append([]byte(nil), b...), s.pending...)
}

func (s *frameScanner) readByte() (byte, error) {
	if len(s.pending) > 0 {
		b := s.pending[0]
		s.pending = s.pending[1:]
		return b, nil
	}
	var buf [1]byte
	if err := s.fill(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (s *frameScanner) readFull(buf []byte) error {
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return s.fill(buf[n:])
}

func (s *frameScanner) fill(buf []byte) error {
	for len(buf) > 0 {
		if !time.Now().Before(s.deadline) {
			return &Error{Kind: KindTimeout}
		}
		n, err := s.src.Read(buf, s.deadline)
		buf = buf[n:]
		if err != nil {
			e := ioError(err)
			if e.Kind == KindTimeout {
				// Let the deadline check decide.
				continue
			}
			return e
		}
	}
	return nil
}
