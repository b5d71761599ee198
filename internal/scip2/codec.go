// Package scip2 implements the SCIP2.0 wire codec: command echo
// verification, status and checksum decoding, and the radix-64 numeric
// encoding used for range and timestamp payloads.
package scip2

import (
	"errors"
	"fmt"

	"github.com/banshee-data/scip2/internal/monitoring"
)

// Conn is the line-oriented channel the codec drives. *transport.Port
// implements it.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(text string) error
	WriteTerminator() error
	Flush()
}

// Options tunes a Codec.
type Options struct {
	// VerifyChecksum checks the checksum of status and data lines of
	// request/response commands. Continuous frame status lines are always
	// checked.
	VerifyChecksum bool

	// OnLine, when set, sees every line the codec reads.
	OnLine func(line string)
}

// Codec sequences reads and writes on one Conn. Like the Conn it wraps, a
// Codec belongs to one goroutine at a time.
type Codec struct {
	conn Conn
	opts Options
}

// NewCodec wraps conn.
func NewCodec(conn Conn, opts Options) *Codec {
	return &Codec{conn: conn, opts: opts}
}

// WithLineHook returns a Codec on the same Conn that also reports every line
// read to hook.
func (c *Codec) WithLineHook(hook func(line string)) *Codec {
	opts := c.opts
	prev := opts.OnLine
	opts.OnLine = func(line string) {
		if prev != nil {
			prev(line)
		}
		hook(line)
	}
	return &Codec{conn: c.conn, opts: opts}
}

// Conn returns the wrapped channel.
func (c *Codec) Conn() Conn { return c.conn }

// ReadLine reads one raw line.
func (c *Codec) ReadLine() (string, error) { return c.readLine() }

func (c *Codec) readLine() (string, error) {
	line, err := c.conn.ReadLine()
	if err != nil {
		if line != "" {
			monitoring.Debugf("scip2: dropped partial line %q: %v", line, err)
		}
		return "", err
	}
	if c.opts.OnLine != nil {
		c.opts.OnLine(line)
	}
	return line, nil
}

// Flush resynchronises the device's parser and drops pending input.
func (c *Codec) Flush() { c.conn.Flush() }

// SendTerminator writes a bare terminator.
func (c *Codec) SendTerminator() error { return c.conn.WriteTerminator() }

// Send writes command, checks that the device echoes it back exactly, and
// decodes the status line that follows.
func (c *Codec) Send(command string) (int, error) {
	monitoring.Debugf("scip2 > %s", command)
	if err := c.conn.WriteLine(command); err != nil {
		return 0, fmt.Errorf("send %s: %w", command, err)
	}

	echo, err := c.readLine()
	if err != nil {
		return 0, fmt.Errorf("read %s echo: %w", command, err)
	}
	if echo != command {
		return 0, fmt.Errorf("sent %q, device echoed %q: %w", command, echo, ErrEchoMismatch)
	}
	return c.ReadStatus()
}

// SendLiteral writes command and skips lines until the device echoes it, so
// it works while a stream is still arriving. It then decodes the status and
// consumes the closing blank line.
func (c *Codec) SendLiteral(command string) (int, error) {
	monitoring.Debugf("scip2 > %s (literal)", command)
	if err := c.conn.WriteLine(command); err != nil {
		return 0, fmt.Errorf("send %s: %w", command, err)
	}

	for {
		line, err := c.readLine()
		if err != nil {
			return 0, fmt.Errorf("wait for %s echo: %w", command, err)
		}
		if line == command {
			break
		}
	}

	status, err := c.ReadStatus()
	if err != nil {
		return status, err
	}
	if err := c.ExpectTerminator(); err != nil {
		return status, err
	}
	return status, nil
}

// ReadStatus reads and decodes one status line. On a fatal device state it
// flushes the line and sends a reset before returning ErrFatalDeviceState.
func (c *Codec) ReadStatus() (int, error) {
	line, err := c.readLine()
	if err != nil {
		return 0, fmt.Errorf("read status: %w", err)
	}
	status, err := c.decodeStatus(line)
	if err != nil {
		return status, err
	}
	if c.opts.VerifyChecksum && len(line) >= 3 {
		if err := VerifyStatusChecksum(line); err != nil {
			return status, err
		}
	}
	return status, nil
}

// ReadStreamStatus reads the status line of a continuous frame. A blank line
// is ErrMalformed. The checksum is always verified.
func (c *Codec) ReadStreamStatus() (int, error) {
	line, err := c.readLine()
	if err != nil {
		return 0, fmt.Errorf("read status: %w", err)
	}
	if line == "" {
		return 0, fmt.Errorf("blank status line: %w", ErrMalformed)
	}
	status, err := c.decodeStatus(line)
	if err != nil {
		return status, err
	}
	if err := VerifyStatusChecksum(line); err != nil {
		return status, err
	}
	return status, nil
}

func (c *Codec) decodeStatus(line string) (int, error) {
	status, err := DecodeStatus(line)
	if errors.Is(err, ErrFatalDeviceState) {
		monitoring.Logf("scip2: device reports status %s, sensor is in update mode", FormatStatus(status))
		c.recoverFatal()
	}
	return status, err
}

// recoverFatal makes a best-effort reset without decoding the reply, which
// could itself be fatal.
func (c *Codec) recoverFatal() {
	c.conn.Flush()
	if err := c.conn.WriteLine(CmdRS); err != nil {
		monitoring.Logf("scip2: reset after fatal status: %v", err)
		return
	}
	for {
		line, err := c.readLine()
		if err != nil {
			return
		}
		if line == CmdRS {
			break
		}
	}
	c.readLine()
	c.readLine()
}

// ExpectTerminator reads one line and fails unless it is blank.
func (c *Codec) ExpectTerminator() error {
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("read terminator: %w", err)
	}
	if line != "" {
		return fmt.Errorf("got %q: %w", line, ErrNoTerminator)
	}
	return nil
}

// Command sends command, consumes the closing blank line and checks the
// status against accepted.
func (c *Codec) Command(command string, accepted ...int) (int, error) {
	status, err := c.Send(command)
	if err != nil {
		return status, err
	}
	if err := c.ExpectTerminator(); err != nil {
		return status, fmt.Errorf("%s: %w", command, err)
	}
	return status, Accept(command, status, accepted...)
}
