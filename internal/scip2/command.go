package scip2

import (
	"fmt"
	"strconv"
)

// Fixed commands.
const (
	CmdSCIP2 = "SCIP2.0"
	CmdBM    = "BM"
	CmdQT    = "QT"
	CmdRS    = "RS"
	CmdVV    = "VV"
	CmdPP    = "PP"
	CmdTM0   = "TM0"
	CmdTM1   = "TM1"
	CmdTM2   = "TM2"
)

// SS formats the bitrate change command.
func SS(rate int) string { return fmt.Sprintf("SS%06d", rate) }

// CR formats the motor speed (deboost) command.
func CR(deboost int) string { return fmt.Sprintf("CR%02d", deboost) }

// ScanRequest describes a GS/GD/GE or MS/MD/ME/ND/NE acquisition.
type ScanRequest struct {
	// Command is the two-letter command name, e.g. "MS".
	Command string
	Start   int
	End     int
	Group   int
	// Cull skips scans between transmissions (continuous only).
	Cull int
	// Count is the number of scans to send; 0 streams until stopped.
	Count int
}

// SingleShot formats the one-shot form: GS{start:04}{end:04}{group:02}.
func (r ScanRequest) SingleShot() string {
	return fmt.Sprintf("%s%04d%04d%02d", r.Command, r.Start, r.End, r.Group)
}

// Continuous formats the streaming form:
// MS{start:04}{end:04}{group:02}{cull}{count:02}.
func (r ScanRequest) Continuous() string {
	return fmt.Sprintf("%s%04d%04d%02d%d%02d", r.Command, r.Start, r.End, r.Group, r.Cull, r.Count)
}

// EchoPrefix is the part of a streamed frame's echo that must match the
// request. The two characters after it count the scans remaining.
func (r ScanRequest) EchoPrefix() string {
	return fmt.Sprintf("%s%04d%04d%02d%d", r.Command, r.Start, r.End, r.Group, r.Cull)
}

// ParseFrameEcho checks a streamed frame's echo against r and returns the
// remaining scan count it carries.
func (r ScanRequest) ParseFrameEcho(echo string) (int, error) {
	prefix := r.EchoPrefix()
	if len(echo) < len(prefix)+2 {
		return 0, fmt.Errorf("frame echo %q too short: %w", echo, ErrMalformed)
	}
	if echo[:len(prefix)] != prefix {
		return 0, fmt.Errorf("frame echo %q, want prefix %q: %w", echo, prefix, ErrEchoMismatch)
	}
	remaining, err := strconv.Atoi(echo[len(prefix) : len(prefix)+2])
	if err != nil {
		return 0, fmt.Errorf("frame echo %q remaining count: %w", echo, ErrMalformed)
	}
	return remaining, nil
}
