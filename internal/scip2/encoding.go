package scip2

import (
	"fmt"
	"strings"
)

// Encoding selects how many characters carry one value on a data line.
type Encoding int

const (
	Encoding2 Encoding = 2
	Encoding3 Encoding = 3
	Encoding4 Encoding = 4
	// Encoding3x2 carries two 3-character values per step (range and
	// intensity) and is only valid for GE, ME and NE.
	Encoding3x2 Encoding = 5
)

// ParseEncoding accepts "2", "3", "4" and "3x2".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2":
		return Encoding2, nil
	case "3":
		return Encoding3, nil
	case "4":
		return Encoding4, nil
	case "3x2":
		return Encoding3x2, nil
	}
	return 0, fmt.Errorf("unknown encoding %q: expected 2, 3, 4 or 3x2", s)
}

func (e Encoding) String() string {
	switch e {
	case Encoding2, Encoding3, Encoding4:
		return fmt.Sprint(int(e))
	case Encoding3x2:
		return "3x2"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	switch e {
	case Encoding2, Encoding3, Encoding4, Encoding3x2:
		return true
	}
	return false
}

// Width is the number of characters per decoded value.
func (e Encoding) Width() int {
	if e == Encoding3x2 {
		return 3
	}
	return int(e)
}

// Multiplier is the number of values the device sends per step.
func (e Encoding) Multiplier() int {
	if e == Encoding3x2 {
		return 2
	}
	return 1
}

// Mask returns the bit mask for one value of the given width.
func Mask(width int) uint32 {
	return uint32(1)<<(6*width) - 1
}

// Encode renders value as width characters, most significant first.
func Encode(value uint32, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(value&0x3f) + 0x30
		value >>= 6
	}
	return string(buf)
}

// Checksum is the SCIP2.0 line checksum: the low 6 bits of the byte sum,
// offset into the printable range.
func Checksum(s string) byte {
	var sum uint
	for i := 0; i < len(s); i++ {
		sum += uint(s[i])
	}
	return byte(sum&0x3f) + 0x30
}

// WithChecksum appends the checksum character to s.
func WithChecksum(s string) string {
	return s + string(Checksum(s))
}

// DataLineLength is the number of payload characters per line the device
// emits before wrapping a data block.
const DataLineLength = 64

// EncodeBlock renders values as the data lines of one payload, wrapping every
// DataLineLength characters so values can straddle lines. Each line carries
// its checksum. The closing blank line is not included.
func EncodeBlock(values []uint32, width int) []string {
	var sb strings.Builder
	for _, v := range values {
		sb.WriteString(Encode(v, width))
	}
	stream := sb.String()

	var lines []string
	for len(stream) > 0 {
		n := min(DataLineLength, len(stream))
		lines = append(lines, WithChecksum(stream[:n]))
		stream = stream[n:]
	}
	return lines
}
