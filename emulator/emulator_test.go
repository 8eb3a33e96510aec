package emulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vscope "github.com/vscope/vscope-serial-go"
	"github.com/vscope/vscope-serial-go/internal/testutil/testlog"
)

func TestReply(t *testing.T) {
	e := New(nil)
	e.Handle(0x10, func(req []byte) ([]byte, error) {
		return []byte{0x10, byte(len(req))}, nil
	})
	e.Handle(0x11, func([]byte) ([]byte, error) { return nil, &DeviceError{Code: ErrRange} })
	e.Handle(0x12, func([]byte) ([]byte, error) { return nil, nil })
	e.Handle(0x13, func([]byte) ([]byte, error) { return nil, errors.New("sensor offline") })

	assert.Equal(t, []byte{0x10, 3}, e.Reply([]byte{0x10, 0xAA, 0xBB}))
	assert.Equal(t, []byte{0x20, 0x21}, e.Reply([]byte{0x20, 0x21}))
	assert.Equal(t, []byte{MsgError, ErrRange}, e.Reply([]byte{0x11}))
	assert.Equal(t, []byte{MsgError, ErrNotReady}, e.Reply([]byte{0x12}))
	assert.Equal(t, []byte{MsgError, ErrNotReady}, e.Reply([]byte{0x13}))
	assert.Equal(t, []byte{MsgError, ErrBadLen}, e.Reply(nil))

	assert.Equal(t, uint64(2), e.Served())
	assert.Equal(t, uint64(4), e.Failed())
}

func TestReplyFallback(t *testing.T) {
	e := New(nil, WithFallback(Reject))
	assert.Equal(t, []byte{MsgError, ErrBadParam}, e.Reply([]byte{0x20}))

	e = New(nil, WithFallback(nil))
	assert.Equal(t, []byte{MsgError, ErrBadParam}, e.Reply([]byte{0x20}))
}

func TestDeviceErrorMessage(t *testing.T) {
	assert.Equal(t, "device error 4", (&DeviceError{Code: ErrRange}).Error())
}

// start runs an emulator on one end of a pipe and returns the other end.
func start(t *testing.T, opts ...Option) (*vscope.PipePort, *Emulator, <-chan error) {
	t.Helper()
	host, dev := vscope.NewPipe(time.Second)
	e := New(dev, append([]Option{WithLogger(testlog.New(t))}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return host, e, done
}

func exchange(t *testing.T, host *vscope.PipePort, req []byte) []byte {
	t.Helper()
	frame, err := vscope.Encode(req)
	require.NoError(t, err)
	_, err = host.Write(frame)
	require.NoError(t, err)
	resp, err := vscope.Decode(host, time.Now().Add(time.Second), vscope.CRCStrict)
	require.NoError(t, err)
	return resp
}

func TestRunServesFrames(t *testing.T) {
	host, e, _ := start(t)
	e.Handle(0x01, func([]byte) ([]byte, error) { return []byte{0x01, 0x64}, nil })

	assert.Equal(t, []byte{0x01, 0x64}, exchange(t, host, []byte{0x01}))
	assert.Equal(t, []byte{0x02, 0x03}, exchange(t, host, []byte{0x02, 0x03}))
	assert.Equal(t, uint64(2), e.Served())
}

func TestRunIgnoresNoise(t *testing.T) {
	host, _, _ := start(t)
	_, err := host.Write([]byte{0x00, 0x13, 0x37})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, exchange(t, host, []byte{0x05}))
}

func TestRunDropsCorruptedRequests(t *testing.T) {
	host, e, done := start(t)
	frame, err := vscope.Encode([]byte{0x01, 0x02})
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF
	_, err = host.Write(frame)
	require.NoError(t, err)

	_, err = vscope.Decode(host, time.Now().Add(100*time.Millisecond), vscope.CRCStrict)
	assert.ErrorIs(t, err, vscope.ErrTimeout)

	require.NoError(t, host.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
		done <- nil
	case <-time.After(time.Second):
		t.Fatal("emulator did not stop after the port closed")
	}
	assert.Equal(t, 1, e.Dropped())
	assert.Zero(t, e.Served())
}

func TestRunStopsOnCancel(t *testing.T) {
	_, dev := vscope.NewPipe(time.Second)
	e := New(dev)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("emulator did not stop after cancel")
	}
}

func TestOversizedResponseBecomesRangeError(t *testing.T) {
	host, e, _ := start(t)
	e.Handle(0x30, func([]byte) ([]byte, error) { return make([]byte, vscope.MaxPayloadLen+1), nil })
	assert.Equal(t, []byte{MsgError, ErrRange}, exchange(t, host, []byte{0x30}))
}
