// Package transport provides the byte channel a SCIP2.0 session runs over:
// a serial line, a TCP socket or a recorded capture, wrapped in a line-buffered
// Port with the flush and bitrate operations the protocol handshake needs.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/scip2/internal/monitoring"
	"github.com/banshee-data/scip2/internal/timeutil"
)

// Terminator ends every SCIP2.0 line in both directions.
const Terminator = '\n'

// DefaultSettleDelay is the pause between the steps of Flush. The device
// needs this long to react to an injected terminator.
const DefaultSettleDelay = 5 * time.Millisecond

// Device is the raw duplex byte channel underneath a Port. Implementations
// exist for serial lines, TCP sockets, pcap replays and tests.
type Device interface {
	io.ReadWriteCloser

	// SetBitrate reconfigures the line for raw 8N1 traffic without echo or
	// flow control at the given rate. Devices without a bitrate accept any
	// value.
	SetBitrate(rate int) error

	// ResetInput discards bytes received but not yet read.
	ResetInput() error
}

// Options tunes a Port.
type Options struct {
	// Clock drives the settling delays. Defaults to the real clock.
	Clock timeutil.Clock
	// SettleDelay is the pause between Flush steps.
	SettleDelay time.Duration
	// ReadBufferSize is the size of the line buffer.
	ReadBufferSize int
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = 4096
	}
}

// Port is an open, exclusively owned SCIP2.0 link. It is not safe for
// concurrent use: exactly one goroutine drives it at a time, which the session
// guarantees by handing the port to its acquisition task and taking it back
// only after the task has been joined.
type Port struct {
	dev     Device
	r       *bufio.Reader
	clock   timeutil.Clock
	settle  time.Duration
	target  string
	bitrate int

	closeOnce sync.Once
	closeErr  error
	release   func() error
}

// NewPort wraps dev in a Port. target names the underlying resource in logs.
func NewPort(dev Device, target string, opts Options) *Port {
	opts.setDefaults()
	return &Port{
		dev:    dev,
		r:      bufio.NewReaderSize(dev, opts.ReadBufferSize),
		clock:  opts.Clock,
		settle: opts.SettleDelay,
		target: target,
	}
}

// Target returns the name the port was opened with.
func (p *Port) Target() string { return p.target }

// Bitrate returns the rate last applied with SetBitrate, or 0 if none was.
func (p *Port) Bitrate() int { return p.bitrate }

// Clock returns the clock the port sleeps on.
func (p *Port) Clock() timeutil.Clock { return p.clock }

// ReadLine reads one line and returns it without its terminator. A blank line
// is returned as an empty string.
//
// When a read fails partway through a line (typically ErrTimeout), the bytes
// already consumed are returned alongside the error. They are gone from the
// stream, so a timeout always ends the line, and the frame, being read.
func (p *Port) ReadLine() (string, error) {
	line, err := p.r.ReadSlice(Terminator)
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", ErrLineTooLong
		}
		return string(line), fmt.Errorf("read %s: %w", p.target, err)
	}
	return string(line[:len(line)-1]), nil
}

// WriteLine writes text followed by the terminator in a single write.
func (p *Port) WriteLine(text string) error {
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, Terminator)
	n, err := p.dev.Write(buf)
	if err != nil {
		return fmt.Errorf("write %s: %w", p.target, err)
	}
	if n != len(buf) {
		return ErrWriteFailed
	}
	return nil
}

// WriteTerminator sends a bare terminator. The device treats it as the end of
// whatever it was parsing, which aborts a transmission in progress.
func (p *Port) WriteTerminator() error {
	return p.WriteLine("")
}

// Flush discards pending input, sends a terminator to resynchronise the
// device's parser and discards input again, settling between steps.
func (p *Port) Flush() {
	p.discardInput()
	p.clock.Sleep(p.settle)
	if err := p.WriteTerminator(); err != nil {
		monitoring.Debugf("flush %s: %v", p.target, err)
	}
	p.clock.Sleep(p.settle)
	p.discardInput()
	p.clock.Sleep(p.settle)
}

func (p *Port) discardInput() {
	if err := p.dev.ResetInput(); err != nil {
		monitoring.Debugf("reset input %s: %v", p.target, err)
	}
	if n := p.r.Buffered(); n > 0 {
		p.r.Discard(n)
	}
}

// SetBitrate reconfigures the line and flushes it.
func (p *Port) SetBitrate(rate int) error {
	if err := p.dev.SetBitrate(rate); err != nil {
		return fmt.Errorf("set bitrate %d on %s: %w", rate, p.target, err)
	}
	p.bitrate = rate
	p.Flush()
	return nil
}

// Close releases the advisory lock and closes the device. It is safe to call
// more than once; later calls return the first result.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		var err error
		if p.release != nil {
			err = multierr.Append(err, p.release())
		}
		err = multierr.Append(err, p.dev.Close())
		p.closeErr = err
	})
	return p.closeErr
}
