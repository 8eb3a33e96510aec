package vscope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserWholeFrames(t *testing.T) {
	p := NewParser()
	now := time.Now()
	in := append(mustEncode(t, []byte{0x01}), mustEncode(t, []byte{0x02, 0x03})...)

	frames := p.Feed(in, now)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0x01}, frames[0])
	assert.Equal(t, []byte{0x02, 0x03}, frames[1])
}

func TestParserSplitChunks(t *testing.T) {
	p := NewParser()
	now := time.Now()
	frame := mustEncode(t, []byte{0x04, 0x05, 0x06})

	for i, b := range frame[:len(frame)-1] {
		assert.Empty(t, p.Feed([]byte{b}, now.Add(time.Duration(i)*time.Millisecond)))
	}
	frames := p.Feed(frame[len(frame)-1:], now.Add(5*time.Millisecond))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x04, 0x05, 0x06}, frames[0])
}

func TestParserDropsBadChecksum(t *testing.T) {
	p := NewParser()
	bad := mustEncode(t, []byte{0x01, 0x02})
	bad[len(bad)-1] ^= 0x55

	now := time.Now()
	assert.Empty(t, p.Feed(bad, now))
	assert.Equal(t, 1, p.Dropped)

	frames := p.Feed(mustEncode(t, []byte{0x0A}), now)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x0A}, frames[0])
}

func TestParserRejectsBadLength(t *testing.T) {
	p := NewParser()
	now := time.Now()
	assert.Empty(t, p.Feed([]byte{SyncByte, 0x01}, now))
	assert.Empty(t, p.Feed([]byte{SyncByte, 0xFF}, now))

	frames := p.Feed(mustEncode(t, []byte{0x0B}), now)
	require.Len(t, frames, 1)
}

func TestParserInterByteTimeout(t *testing.T) {
	p := NewParser()
	now := time.Now()
	frame := mustEncode(t, []byte{0x01, 0x02})

	assert.Empty(t, p.Feed(frame[:3], now))
	// The rest arrives too late and is treated as noise.
	assert.Empty(t, p.Feed(frame[3:], now.Add(2*DefaultFrameTimeout)))

	frames := p.Feed(frame, now.Add(3*DefaultFrameTimeout))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x01, 0x02}, frames[0])
}

func TestParserNoTimeoutWhenDisabled(t *testing.T) {
	p := &Parser{}
	now := time.Now()
	frame := mustEncode(t, []byte{0x07})

	assert.Empty(t, p.Feed(frame[:2], now))
	frames := p.Feed(frame[2:], now.Add(time.Hour))
	require.Len(t, frames, 1)
}

func TestParserReset(t *testing.T) {
	p := NewParser()
	now := time.Now()
	frame := mustEncode(t, []byte{0x01, 0x02})

	p.Feed(frame[:3], now)
	p.Reset()
	assert.Empty(t, p.Feed(frame[3:], now))
}
