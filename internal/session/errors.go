package session

import "errors"

var (
	// ErrNoLinkFound is returned when no candidate bitrate got an answer from
	// the device in either probing pass.
	ErrNoLinkFound = errors.New("session: no bitrate elicited a response")

	// ErrInvalidState is returned for operations not allowed in the current
	// state, such as sending commands while a stream owns the port.
	ErrInvalidState = errors.New("session: invalid state for operation")

	// ErrUnsupportedEncoding is returned when a command does not support the
	// requested encoding.
	ErrUnsupportedEncoding = errors.New("session: unsupported encoding")

	// ErrInvalidWindow is returned for scan windows the protocol cannot
	// express or the device cannot measure.
	ErrInvalidWindow = errors.New("session: invalid scan window")
)
