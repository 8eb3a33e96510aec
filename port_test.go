package vscope

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// mockPort is a testify mock of Port and io.Closer.
type mockPort struct {
	mock.Mock
}

func (m *mockPort) Read(p []byte, deadline time.Time) (int, error) {
	args := m.Called(p, deadline)
	return args.Int(0), args.Error(1)
}

func (m *mockPort) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockPort) Clear(which ClearBuffer) error {
	return m.Called(which).Error(0)
}

func (m *mockPort) Timeout() time.Duration {
	return m.Called().Get(0).(time.Duration)
}

func (m *mockPort) Close() error {
	return m.Called().Error(0)
}

var _ Port = (*mockPort)(nil)
