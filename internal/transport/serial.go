package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds every serial or socket read. A device that stays
// silent this long is treated as absent at the current bitrate.
const DefaultReadTimeout = 600 * time.Millisecond

// PortOptions configures a real serial port. SCIP2.0 devices always speak
// 8N1, so only the opening rate and the read timeout vary; the session probes
// and switches the rate afterwards.
type PortOptions struct {
	BaudRate    int           `json:"baud_rate"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate == 0 {
		opts.BaudRate = 19200
	}
	if opts.BaudRate < 0 {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return opts, nil
}

// SerialMode converts the options into the 8N1 serial.Mode go.bug.st/serial
// opens the port with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}

// serialOpen is swapped out in tests.
var serialOpen = serial.Open

// SerialDevice is a Device backed by a go.bug.st/serial port.
type SerialDevice struct {
	port serial.Port
	mode serial.Mode
}

// OpenSerial opens the serial port at path. It does not take the advisory
// lock; use Open for that.
func OpenSerial(path string, opts PortOptions) (*SerialDevice, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serialOpen(path, mode)
	if err != nil {
		return nil, mapPortError(path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return &SerialDevice{port: port, mode: *mode}, nil
}

func mapPortError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("open %s: %w", path, ErrNotFound)
		case serial.PortBusy:
			return fmt.Errorf("open %s: %w", path, ErrLocked)
		}
	}
	return fmt.Errorf("open %s: %w", path, err)
}

// Read reads from the port. go.bug.st/serial reports an expired read timeout
// as a zero-byte read, which is surfaced here as ErrTimeout.
func (d *SerialDevice) Read(p []byte) (int, error) {
	n, err := d.port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

// Write writes to the port.
func (d *SerialDevice) Write(p []byte) (int, error) {
	return d.port.Write(p)
}

// SetBitrate changes the port's baud rate, keeping the rest of the framing.
func (d *SerialDevice) SetBitrate(rate int) error {
	mode := d.mode
	mode.BaudRate = rate
	if err := d.port.SetMode(&mode); err != nil {
		return err
	}
	d.mode = mode
	return nil
}

// ResetInput discards the OS input queue.
func (d *SerialDevice) ResetInput() error {
	return d.port.ResetInputBuffer()
}

// Close closes the port.
func (d *SerialDevice) Close() error {
	return d.port.Close()
}
