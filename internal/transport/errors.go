package transport

import "errors"

var (
	// ErrNotFound is returned when the target device or file does not exist.
	ErrNotFound = errors.New("device not found")

	// ErrLocked is returned when another session already holds the exclusive
	// lock on the target.
	ErrLocked = errors.New("device locked by another session")

	// ErrTimeout is returned by device reads that received nothing within the
	// read timeout.
	ErrTimeout = errors.New("read timeout")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device closed")

	// ErrWriteFailed is returned when a device accepted fewer bytes than were
	// written.
	ErrWriteFailed = errors.New("short write to device")

	// ErrLineTooLong is returned when a line exceeds the read buffer.
	//
	// This typically indicates binary noise on the line after a bitrate
	// mismatch.
	ErrLineTooLong = errors.New("line too long")

	// ErrUnsupportedTarget is returned by Open for target strings it cannot
	// route to a device.
	ErrUnsupportedTarget = errors.New("unsupported target")
)
