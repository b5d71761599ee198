// Package scan holds received SCIP2.0 frames in a small set of reusable
// buffers and runs the background task that fills them, handing completed
// frames to a consumer without copying.
package scan

import (
	"sync"

	"github.com/banshee-data/scip2/internal/scip2"
)

// ErrorState classifies a failed frame.
type ErrorState int

const (
	ErrorNone ErrorState = iota
	// ErrorRecoverable marks a torn or rejected frame. The device link is
	// still usable.
	ErrorRecoverable
	// ErrorFatal marks a protocol failure after which the stream cannot be
	// trusted.
	ErrorFatal
)

func (e ErrorState) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorRecoverable:
		return "recoverable"
	case ErrorFatal:
		return "fatal"
	}
	return "unknown"
}

// Scan is one measurement frame. A Scan returned by Pipeline.Begin is owned
// by the caller until Pipeline.End and is never written in the meantime.
type Scan struct {
	mu sync.Mutex

	Start    int
	End      int
	Group    int
	Cull     int
	Count    int
	Encoding scip2.Encoding

	// Timestamp is the sensor clock at capture, in milliseconds.
	Timestamp uint32

	// Samples holds the decoded values, two per step for Encoding3x2.
	Samples []uint32

	Error ErrorState

	storage []uint32
}

// Size is the number of decoded samples.
func (s *Scan) Size() int { return len(s.Samples) }

// Capacity is the number of samples the backing storage can hold.
func (s *Scan) Capacity() int { return len(s.storage) }

// grow makes room for n samples. Storage only ever grows.
func (s *Scan) grow(n int) {
	if len(s.storage) < n {
		s.storage = make([]uint32, n)
	}
}

// configure stamps the request onto the frame and clears its previous
// contents.
func (s *Scan) configure(req scip2.ScanRequest, enc scip2.Encoding) {
	s.Start = req.Start
	s.End = req.End
	s.Group = req.Group
	s.Cull = req.Cull
	s.Count = req.Count
	s.Encoding = enc
	s.Timestamp = 0
	s.Samples = s.Samples[:0]
	s.Error = ErrorNone
}

func (s *Scan) release() {
	s.mu.Lock()
	s.storage = nil
	s.Samples = nil
	s.mu.Unlock()
}

// requiredCapacity is the storage needed for one frame of req, with headroom
// for the extra values some firmware appends.
func requiredCapacity(req scip2.ScanRequest, enc scip2.Encoding) int {
	group := max(req.Group, 1)
	return (req.End-req.Start+1)*enc.Multiplier()/group + 1024
}
