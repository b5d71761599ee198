package admin

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scip2/internal/scan"
	"github.com/banshee-data/scip2/internal/scip2"
)

// Frame is a copy of a delivered scan, detached from pipeline storage.
type Frame struct {
	Start     int            `json:"start"`
	End       int            `json:"end"`
	Group     int            `json:"group"`
	Encoding  scip2.Encoding `json:"-"`
	Timestamp uint32         `json:"timestamp"`
	Host      time.Time      `json:"host_time"`
	Samples   []uint32       `json:"-"`
}

// Ranges returns the distance samples, dropping the intensities that
// doubled encodings interleave with them.
func (f Frame) Ranges() []uint32 {
	if f.Encoding.Multiplier() != 2 {
		return f.Samples
	}
	out := make([]uint32, 0, len(f.Samples)/2)
	for i := 0; i < len(f.Samples); i += 2 {
		out = append(out, f.Samples[i])
	}
	return out
}

// FrameStore keeps the latest frame for the debug routes. The consumer
// copies into it between Begin and End.
type FrameStore struct {
	mu     sync.Mutex
	latest Frame
	ok     bool
}

// Update copies s. host is the host time of the frame's timestamp, or zero
// if the clock has not been synchronised.
func (fs *FrameStore) Update(s *scan.Scan, host time.Time) {
	f := Frame{
		Start:     s.Start,
		End:       s.End,
		Group:     s.Group,
		Encoding:  s.Encoding,
		Timestamp: s.Timestamp,
		Host:      host,
		Samples:   slices.Clone(s.Samples),
	}
	fs.mu.Lock()
	fs.latest, fs.ok = f, true
	fs.mu.Unlock()
}

// Latest returns the most recent frame, if any.
func (fs *FrameStore) Latest() (Frame, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.latest, fs.ok
}

// Summary describes the valid ranges of one frame, in mm.
type Summary struct {
	Steps  int     `json:"steps"`
	Valid  int     `json:"valid"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Summarize computes statistics over the ranges valid reports true for.
// A nil valid accepts every range.
func Summarize(f Frame, valid func(r uint32) bool) Summary {
	ranges := f.Ranges()
	sum := Summary{Steps: len(ranges)}

	xs := make([]float64, 0, len(ranges))
	for _, r := range ranges {
		if valid == nil || valid(r) {
			xs = append(xs, float64(r))
		}
	}
	sum.Valid = len(xs)
	if len(xs) == 0 {
		return sum
	}

	sum.Min = floats.Min(xs)
	sum.Max = floats.Max(xs)
	if len(xs) == 1 {
		sum.Mean = xs[0]
		return sum
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(xs, nil)
	return sum
}
