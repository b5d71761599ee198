package scan

import "errors"

var (
	// ErrBusy is returned by Begin when another consumer holds a frame or no
	// new frame has arrived since the last Begin.
	ErrBusy = errors.New("scan: busy")

	// ErrFatal is returned by Begin once any frame has failed. It sticks until
	// Reset.
	ErrFatal = errors.New("scan: acquisition failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scan: pipeline closed")

	// ErrRunning is returned when an acquisition is already in progress.
	ErrRunning = errors.New("scan: acquisition running")
)
