package vscope

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, payload []byte) []byte {
	t.Helper()
	frame, err := Encode(payload)
	require.NoError(t, err)
	return frame
}

// feed returns a reader preloaded with chunks.
func feed(chunks ...[]byte) *syncBuffer {
	b := newSyncBuffer()
	for _, c := range chunks {
		b.Append(c)
	}
	return b
}

func TestEncodeLayout(t *testing.T) {
	frame := mustEncode(t, []byte{0x01, 0x02, 0x03})
	assert.Equal(t, []byte{0xC8, 0x04, 0x01, 0x02, 0x03, 0x3F}, frame)
}

func TestEncodeSizeBoundary(t *testing.T) {
	frame := mustEncode(t, bytes.Repeat([]byte{0x11}, MaxPayloadLen))
	assert.Len(t, frame, MaxPayloadLen+3)
	assert.Equal(t, byte(253), frame[1])

	_, err := Encode(bytes.Repeat([]byte{0x11}, MaxPayloadLen+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))

	_, err = Encode(nil)
	assert.Equal(t, KindPayloadTooLarge, KindOf(err))
}

func TestEncodeLenField(t *testing.T) {
	for n := 1; n <= MaxPayloadLen; n++ {
		frame := mustEncode(t, make([]byte, n))
		require.Equal(t, byte(n+1), frame[1])
		require.Equal(t, SyncByte, frame[0])
	}
}

func TestRoundTrip(t *testing.T) {
	for n := 1; n <= MaxPayloadLen; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*7 + n)
		}
		got, err := Decode(feed(mustEncode(t, payload)), time.Now().Add(time.Second), CRCStrict)
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, payload, got, "n=%d", n)
	}
}

func TestDecodeSkipsGarbage(t *testing.T) {
	payload := []byte{0x05, 0x06, 0x07}
	// 0xC8 followed by an out of range length is a false sync.
	garbage := []byte{0x00, 0xFF, 0x13, SyncByte, 0x00, SyncByte, 0xFF, 0x42}
	src := feed(garbage, mustEncode(t, payload))

	got, stats, err := decodeFrame(src, time.Now().Add(time.Second), CRCStrict)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 2, stats.FalseSyncs)
	assert.Equal(t, 6, stats.Discarded)
}

func TestDecodeFalseSyncLengthIsRescanned(t *testing.T) {
	payload := []byte{0x09}
	// The byte after a false sync may itself be the real sync byte.
	src := feed([]byte{SyncByte, 0x01}, mustEncode(t, payload))
	got, err := Decode(src, time.Now().Add(time.Second), CRCStrict)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeChunkedInput(t *testing.T) {
	frame := mustEncode(t, []byte{0x01, 0x02, 0x03, 0x04})
	src := newSyncBuffer()
	go func() {
		for _, b := range frame {
			time.Sleep(2 * time.Millisecond)
			src.Append([]byte{b})
		}
	}()
	got, err := Decode(src, time.Now().Add(time.Second), CRCStrict)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, got)
}

func TestDecodeCorruption(t *testing.T) {
	frame := mustEncode(t, []byte{0x01, 0x02, 0x03})
	frame[len(frame)-1] ^= 0xFF

	_, err := Decode(feed(frame), time.Now().Add(time.Second), CRCStrict)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCrcMismatch))
	assert.Contains(t, err.Error(), "computed 0x3F")
}

func TestDecodeCorruptedPayloadByte(t *testing.T) {
	frame := mustEncode(t, []byte{0x01, 0x02, 0x03})
	frame[3] ^= 0x01

	_, err := Decode(feed(frame), time.Now().Add(time.Second), CRCStrict)
	assert.Equal(t, KindCrcMismatch, KindOf(err))
}

func TestDecodeResyncPolicy(t *testing.T) {
	bad := mustEncode(t, []byte{0x01, 0x02, 0x03})
	bad[len(bad)-1] ^= 0xFF
	good := []byte{0x05, 0x06}

	got, stats, err := decodeFrame(feed(bad, mustEncode(t, good)), time.Now().Add(time.Second), CRCResync)
	require.NoError(t, err)
	assert.Equal(t, good, got)
	assert.Equal(t, 1, stats.CrcErrors)
}

func TestDecodeResyncFindsFrameInsideBadFrame(t *testing.T) {
	inner := mustEncode(t, []byte{0x07})
	// A sync byte with a length that swallows the real frame behind it.
	outer := append([]byte{SyncByte, byte(len(inner) + 1)}, inner...)
	outer = append(outer, 0x00)

	got, err := Decode(feed(outer), time.Now().Add(time.Second), CRCResync)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07}, got)
}

func TestDecodeTimeoutBound(t *testing.T) {
	timeout := 50 * time.Millisecond
	start := time.Now()
	_, err := Decode(newSyncBuffer(), start.Add(timeout), CRCStrict)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)
}

func TestDecodeTimeoutOnPartialFrame(t *testing.T) {
	frame := mustEncode(t, []byte{0x01, 0x02, 0x03})
	_, err := Decode(feed(frame[:4]), time.Now().Add(30*time.Millisecond), CRCStrict)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestDecodeExpiredDeadline(t *testing.T) {
	frame := mustEncode(t, []byte{0x01})
	_, err := Decode(feed(frame), time.Now().Add(-time.Millisecond), CRCStrict)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestDecodeClosedSource(t *testing.T) {
	src := newSyncBuffer()
	src.Close()
	_, err := Decode(src, time.Now().Add(time.Second), CRCStrict)
	assert.Equal(t, KindIO, KindOf(err))
}
