package vscope

import "time"

// DefaultFrameTimeout is the longest gap allowed between two bytes of the
// same frame before Parser abandons it.
const DefaultFrameTimeout = 10 * time.Millisecond

type parserState int

const (
	parserIdle parserState = iota
	parserLen
	parserData
)

// Parser is an incremental frame parser for byte streams that arrive in
// arbitrary chunks. Frames with a bad checksum are dropped silently and
// counted in Dropped. Parser is not safe for concurrent use.
type Parser struct {
	FrameTimeout time.Duration
	Dropped      int

	state    parserState
	expected int
	buf      []byte
	last     time.Time
}

// NewParser returns a parser using DefaultFrameTimeout.
func NewParser() *Parser {
	return &Parser{FrameTimeout: DefaultFrameTimeout}
}

// Reset drops any partially received frame.
func (p *Parser) Reset() {
	p.state = parserIdle
	p.expected = 0
	p.buf = p.buf[:0]
}

// Feed consumes data received at now and returns the payloads of all frames
// completed by it.
func (p *Parser) Feed(data []byte, now time.Time) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if p.state != parserIdle && p.FrameTimeout > 0 && now.Sub(p.last) > p.FrameTimeout {
		p.Reset()
	}

	var frames [][]byte
	for _, b := range data {
		switch p.state {
		case parserIdle:
			if b == SyncByte {
				p.state = parserLen
				p.last = now
			}
		case parserLen:
			p.last = now
			if int(b) < MinLenField || int(b) > MaxLenField {
				p.Reset()
				continue
			}
			p.expected = int(b)
			p.buf = p.buf[:0]
			p.state = parserData
		case parserData:
			p.last = now
			p.buf = append(p.buf, b)
			if len(p.buf) < p.expected {
				continue
			}
			payload := p.buf[:p.expected-1]
			if Checksum(payload) == p.buf[p.expected-1] {
				frames = append(frames, append([]byte(nil), payload...))
			} else {
				p.Dropped++
			}
			p.Reset()
		default:
			p.Reset()
		}
	}
	return frames
}
