package session

import (
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/scip2/internal/scip2"
)

// Version is the reply to VV.
type Version struct {
	Vendor   string
	Product  string
	Firmware string
	Protocol string
	Serial   string
}

// Parameters is the reply to PP.
type Parameters struct {
	Model string
	// DistMin and DistMax bound valid ranges, in mm.
	DistMin int
	DistMax int
	// AngleResolution is the number of steps in a full turn.
	AngleResolution int
	StepMin         int
	StepMax         int
	// StepFront is the step pointing straight ahead.
	StepFront int
	// ScanRPM is the motor speed.
	ScanRPM int
}

func parseVersion(fields []scip2.Field) Version {
	var v Version
	for _, f := range fields {
		switch f.Key {
		case "VEND":
			v.Vendor = f.Value
		case "PROD":
			v.Product = f.Value
		case "FIRM":
			v.Firmware = f.Value
		case "PROT":
			v.Protocol = f.Value
		case "SERI":
			v.Serial = f.Value
		}
	}
	return v
}

func parseParameters(fields []scip2.Field) Parameters {
	var p Parameters
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	for _, f := range fields {
		switch f.Key {
		case "MODL":
			p.Model = f.Value
		case "DMIN":
			p.DistMin = atoi(f.Value)
		case "DMAX":
			p.DistMax = atoi(f.Value)
		case "ARES":
			p.AngleResolution = atoi(f.Value)
		case "AMIN":
			p.StepMin = atoi(f.Value)
		case "AMAX":
			p.StepMax = atoi(f.Value)
		case "AFRT":
			p.StepFront = atoi(f.Value)
		case "SCAN":
			p.ScanRPM = atoi(f.Value)
		}
	}
	return p
}

// ValidateWindow checks that [start, end] lies within the measurable steps.
func (p Parameters) ValidateWindow(start, end int) error {
	if start > end || start < p.StepMin || end > p.StepMax {
		return fmt.Errorf("window [%d, %d] outside [%d, %d]: %w", start, end, p.StepMin, p.StepMax, ErrInvalidWindow)
	}
	return nil
}

// StepAngle converts a step index to radians, zero straight ahead and
// positive counter-clockwise.
func (p Parameters) StepAngle(step int) float64 {
	if p.AngleResolution == 0 {
		return 0
	}
	return float64(step-p.StepFront) * 2 * math.Pi / float64(p.AngleResolution)
}

// ValidRange reports whether r (mm) is inside the sensor's measurable range.
// Smaller values are error codes.
func (p Parameters) ValidRange(r uint32) bool {
	return int(r) >= p.DistMin && int(r) <= p.DistMax
}
