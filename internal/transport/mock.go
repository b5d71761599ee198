package transport

import (
	"bytes"
	"sync"
)

// TestableDevice implements Device with configurable behaviour for testing.
// Reads drain ReadBuffer and report ErrTimeout once it is empty, the way a
// silent serial line does.
type TestableDevice struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the device
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// BitrateError is returned by SetBitrate if set
	BitrateError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// Bitrates records every rate passed to SetBitrate
	Bitrates []int

	// ResetCalls counts ResetInput calls
	ResetCalls int

	// KeepInputOnReset leaves ReadBuffer intact on ResetInput
	KeepInputOnReset bool
}

// NewTestableDevice creates a TestableDevice with empty buffers.
func NewTestableDevice() *TestableDevice {
	return &TestableDevice{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read returns queued input or ErrTimeout.
func (t *TestableDevice) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, ErrTimeout
	}
	return t.ReadBuffer.Read(p)
}

// Write records p.
func (t *TestableDevice) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.WriteBuffer.Write(p)
}

// SetBitrate records rate.
func (t *TestableDevice) SetBitrate(rate int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.BitrateError != nil {
		return t.BitrateError
	}
	t.Bitrates = append(t.Bitrates, rate)
	return nil
}

// ResetInput drops queued input unless KeepInputOnReset is set.
func (t *TestableDevice) ResetInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ResetCalls++
	if !t.KeepInputOnReset {
		t.ReadBuffer.Reset()
	}
	return nil
}

// Close marks the device closed.
func (t *TestableDevice) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// QueueInput appends data for later reads.
func (t *TestableDevice) QueueInput(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.WriteString(data)
}

// Written returns what has been written so far.
func (t *TestableDevice) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}
