package scip2

import (
	"fmt"

	"github.com/banshee-data/scip2/internal/monitoring"
)

// Remainder carries a partially decoded value from one data line to the next.
// The zero value starts a new payload.
type Remainder struct {
	value uint32
	count int
}

// Reset starts a new payload.
func (r *Remainder) Reset() { *r = Remainder{} }

// Pending reports how many characters of an unfinished value are held.
func (r *Remainder) Pending() int { return r.count }

// DecodeLine decodes the payload characters of one data line (checksum
// already removed) into dst, width characters per value, continuing from
// rem. It returns the number of values written. Running out of room in dst
// returns ErrOverflow with the values decoded so far.
func DecodeLine(payload string, dst []uint32, width int, rem *Remainder) (int, error) {
	mask := Mask(width)
	value, count := rem.value, rem.count
	n := 0
	for i := 0; i < len(payload); i++ {
		ch := payload[i]
		if ch < 0x30 || ch > 0x6f {
			return n, fmt.Errorf("character %q at %d: %w", ch, i, ErrMalformed)
		}
		value = value<<6 | uint32(ch-0x30)
		count++
		if count == width {
			if n == len(dst) {
				return n, ErrOverflow
			}
			dst[n] = value & mask
			n++
			count = 0
		}
	}
	rem.value, rem.count = value, count
	return n, nil
}

// ReadEncodedLine reads one data line and decodes it into dst. A blank line
// ends the payload and returns 0. On overflow a terminator is sent to stop
// the device transmitting.
func (c *Codec) ReadEncodedLine(dst []uint32, width int, rem *Remainder) (int, error) {
	n, _, err := c.readEncoded(dst, width, rem)
	return n, err
}

func (c *Codec) readEncoded(dst []uint32, width int, rem *Remainder) (n int, blank bool, err error) {
	line, err := c.readLine()
	if err != nil {
		return 0, false, fmt.Errorf("read data: %w", err)
	}
	if line == "" {
		return 0, true, nil
	}
	if len(line) < 2 {
		return 0, false, fmt.Errorf("data line %q: %w", line, ErrMalformed)
	}

	payload, sum := line[:len(line)-1], line[len(line)-1]
	if c.opts.VerifyChecksum {
		if want := Checksum(payload); sum != want {
			return 0, false, fmt.Errorf("data line: got %q, want %q: %w", sum, want, ErrChecksum)
		}
	}

	n, err = DecodeLine(payload, dst, width, rem)
	if err == ErrOverflow {
		monitoring.Logf("scip2: receive buffer overflow after %d values, aborting transmission", n)
		if werr := c.conn.WriteTerminator(); werr != nil {
			monitoring.Debugf("scip2: abort: %v", werr)
		}
	}
	return n, false, err
}

// ReadValue reads a data line holding exactly one value, such as a
// timestamp.
func (c *Codec) ReadValue(width int) (uint32, error) {
	var v [1]uint32
	var rem Remainder
	n, err := c.ReadEncodedLine(v[:], width, &rem)
	if err != nil {
		return 0, err
	}
	if n != 1 || rem.Pending() != 0 {
		return 0, fmt.Errorf("expected one %d-character value: %w", width, ErrMalformed)
	}
	return v[0], nil
}

// ReadBlock decodes data lines into dst until the closing blank line and
// returns the total number of values. A value left unfinished at the blank
// line is ErrMalformed.
func (c *Codec) ReadBlock(dst []uint32, width int) (int, error) {
	var rem Remainder
	total := 0
	for {
		n, blank, err := c.readEncoded(dst[total:], width, &rem)
		total += n
		if err != nil {
			return total, err
		}
		if blank {
			if rem.Pending() != 0 {
				return total, fmt.Errorf("payload ends inside a value: %w", ErrMalformed)
			}
			return total, nil
		}
	}
}
