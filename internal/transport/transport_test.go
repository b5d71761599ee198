package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scip2/internal/timeutil"
)

func newTestPort(t *testing.T) (*Port, *TestableDevice, *timeutil.MockClock) {
	t.Helper()
	dev := NewTestableDevice()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	return NewPort(dev, "test", Options{Clock: clock}), dev, clock
}

func TestPort_ReadLine(t *testing.T) {
	port, dev, _ := newTestPort(t)
	dev.QueueInput("BM\n00P\n\n")

	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "BM", line)

	line, err = port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "00P", line)

	line, err = port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "", line)

	_, err = port.ReadLine()
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestPort_ReadLine_TimeoutMidLine(t *testing.T) {
	port, dev, _ := newTestPort(t)
	dev.QueueInput("0m0m")

	line, err := port.ReadLine()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "0m0m", line)

	dev.QueueInput("0m\n")
	line, err = port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "0m", line, "a timeout ends the line being read")
}

func TestPort_ReadLine_TooLong(t *testing.T) {
	dev := NewTestableDevice()
	port := NewPort(dev, "test", Options{ReadBufferSize: 16, Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	dev.QueueInput("0123456789abcdefghijklmnop\n")

	_, err := port.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestPort_WriteLine(t *testing.T) {
	port, dev, _ := newTestPort(t)

	require.NoError(t, port.WriteLine("MS0044072501000"))
	require.NoError(t, port.WriteTerminator())
	assert.Equal(t, "MS0044072501000\n\n", dev.Written())

	dev.WriteError = errors.New("boom")
	assert.Error(t, port.WriteLine("QT"))
}

func TestPort_Flush(t *testing.T) {
	port, dev, clock := newTestPort(t)
	dev.QueueInput("stale bytes\nmore")

	port.Flush()

	assert.Equal(t, "\n", dev.Written())
	assert.Equal(t, 2, dev.ResetCalls)
	assert.Equal(t, []time.Duration{DefaultSettleDelay, DefaultSettleDelay, DefaultSettleDelay}, clock.Sleeps())

	_, err := port.ReadLine()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPort_FlushDropsBufferedLines(t *testing.T) {
	port, dev, _ := newTestPort(t)
	dev.QueueInput("first\nsecond\n")

	line, err := port.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "first", line)

	port.Flush()
	_, err = port.ReadLine()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPort_SetBitrate(t *testing.T) {
	port, dev, _ := newTestPort(t)

	require.NoError(t, port.SetBitrate(115200))
	assert.Equal(t, []int{115200}, dev.Bitrates)
	assert.Equal(t, 115200, port.Bitrate())
	assert.Equal(t, "\n", dev.Written(), "bitrate change flushes")

	dev.BitrateError = errors.New("unsupported")
	assert.Error(t, port.SetBitrate(1))
	assert.Equal(t, 115200, port.Bitrate())
}

func TestPort_CloseOnce(t *testing.T) {
	port, dev, _ := newTestPort(t)
	releases := 0
	port.release = func() error {
		releases++
		return nil
	}
	dev.CloseError = errors.New("close failed")

	err1 := port.Close()
	err2 := port.Close()
	assert.EqualError(t, err1, "close failed")
	assert.Equal(t, err1, err2)
	assert.Equal(t, 1, releases)
	assert.True(t, dev.Closed)
}
