package scip2

import (
	"fmt"
)

// Status values with special meaning.
const (
	StatusOK = 0
	// StatusStreaming tags every frame of a continuous acquisition.
	StatusStreaming = 99
	// StatusAlreadySCIP2 is the escaped "0E" a device answers to SCIP2.0 when
	// it is already in SCIP2.0 mode.
	StatusAlreadySCIP2 int = -('0'*0x100 + 'E')
	// FatalThreshold is the escaped "0I". Anything lower means the device is
	// in boot or update mode.
	FatalThreshold int = -('0'*0x100 + 'I')
)

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// DecodeStatus decodes a status line with its terminator already removed.
// Digits decode to their decimal value. Anything else is escaped as the
// negated byte value (one character) or byte0*256+byte1 (two characters).
// Escaped values below FatalThreshold return ErrFatalDeviceState.
func DecodeStatus(line string) (int, error) {
	switch len(line) {
	case 0:
		return 0, fmt.Errorf("empty status line: %w", ErrMalformed)
	case 1:
		b := line[0]
		if isDigit(b) {
			return int(b - '0'), nil
		}
		return checkFatal(-int(b))
	}

	b0, b1 := line[0], line[1]
	if isDigit(b0) && isDigit(b1) {
		return int(b0-'0')*10 + int(b1-'0'), nil
	}
	return checkFatal(-(int(b0)*0x100 + int(b1)))
}

func checkFatal(status int) (int, error) {
	if status < FatalThreshold {
		return status, fmt.Errorf("status %s: %w", FormatStatus(status), ErrFatalDeviceState)
	}
	return status, nil
}

// VerifyStatusChecksum checks the third character of a status line.
func VerifyStatusChecksum(line string) error {
	if len(line) < 3 {
		return fmt.Errorf("status %q has no checksum: %w", line, ErrChecksum)
	}
	if want := Checksum(line[:2]); line[2] != want {
		return fmt.Errorf("status %q: got %q, want %q: %w", line, line[2], want, ErrChecksum)
	}
	return nil
}

// FormatStatus renders status the way the device sent it: two digits for
// plain codes and the original characters for escaped ones.
func FormatStatus(status int) string {
	if status >= 0 {
		return fmt.Sprintf("%02d", status)
	}
	v := -status
	if v < 0x100 {
		return fmt.Sprintf("%q", string(rune(v)))
	}
	return fmt.Sprintf("%q", string([]byte{byte(v >> 8), byte(v)}))
}
