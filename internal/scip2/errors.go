package scip2

import (
	"errors"
	"fmt"
)

var (
	// ErrEchoMismatch is returned when the device echoes something other than
	// the command that was sent.
	ErrEchoMismatch = errors.New("scip2: echo mismatch")

	// ErrFatalDeviceState is returned when the device reports an escaped status
	// beyond "0I", which means it is in boot or firmware update mode. The codec
	// has already flushed the line and sent a reset; the caller decides whether
	// to give up on the device.
	ErrFatalDeviceState = errors.New("scip2: device in fatal state")

	// ErrOverflow is returned when a payload decodes to more values than the
	// destination can hold. A terminator has been sent to abort transmission.
	ErrOverflow = errors.New("scip2: decode overflow")

	// ErrMalformed is returned for lines too short or out of range to decode.
	ErrMalformed = errors.New("scip2: malformed line")

	// ErrChecksum is returned when a line's checksum character does not match.
	ErrChecksum = errors.New("scip2: checksum mismatch")

	// ErrNoTerminator is returned when a blank line was expected but something
	// else arrived.
	ErrNoTerminator = errors.New("scip2: expected blank line")
)

// StatusError reports a status code outside a command's accept set.
type StatusError struct {
	Command string
	Status  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scip2: %s returned status %s", e.Command, FormatStatus(e.Status))
}

// Accept returns nil if status is one of accepted, or a *StatusError.
func Accept(command string, status int, accepted ...int) error {
	for _, a := range accepted {
		if status == a {
			return nil
		}
	}
	return &StatusError{Command: command, Status: status}
}
