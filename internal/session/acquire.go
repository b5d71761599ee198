package session

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/banshee-data/scip2/internal/scip2"
)

// Acquisition describes the frames to fetch.
type Acquisition struct {
	// Start and End are the first and last step, inclusive.
	Start int
	End   int
	// Group merges this many adjacent steps into one value; 0 means 1.
	Group int
	// Cull skips this many scans between transmissions. Continuous only.
	Cull int
	// Count is the number of scans to stream; 0 streams until stopped.
	// Continuous only.
	Count    int
	Encoding scip2.Encoding
}

var (
	singleShotCommands = map[scip2.Encoding]string{
		scip2.Encoding2:   "GS",
		scip2.Encoding3:   "GD",
		scip2.Encoding3x2: "GE",
	}
	msCommands = map[scip2.Encoding]string{
		scip2.Encoding2:   "MS",
		scip2.Encoding3:   "MD",
		scip2.Encoding3x2: "ME",
	}
	ndCommands = map[scip2.Encoding]string{
		scip2.Encoding3:   "ND",
		scip2.Encoding3x2: "NE",
	}
)

// request checks a against the protocol's field widths and, once PP has
// been read, the device's step range.
func (s *Session) request(commands map[scip2.Encoding]string, a Acquisition) (scip2.ScanRequest, error) {
	name, ok := commands[a.Encoding]
	if !ok {
		return scip2.ScanRequest{}, fmt.Errorf("encoding %s: %w", a.Encoding, ErrUnsupportedEncoding)
	}
	switch {
	case a.Start < 0 || a.End > 9999 || a.Start > a.End:
		return scip2.ScanRequest{}, fmt.Errorf("window [%d, %d]: %w", a.Start, a.End, ErrInvalidWindow)
	case a.Group < 0 || a.Group > 99:
		return scip2.ScanRequest{}, fmt.Errorf("group %d: %w", a.Group, ErrInvalidWindow)
	case a.Cull < 0 || a.Cull > 9:
		return scip2.ScanRequest{}, fmt.Errorf("cull %d: %w", a.Cull, ErrInvalidWindow)
	case a.Count < 0 || a.Count > 99:
		return scip2.ScanRequest{}, fmt.Errorf("count %d: %w", a.Count, ErrInvalidWindow)
	}
	if s.params != nil {
		if err := s.params.ValidateWindow(a.Start, a.End); err != nil {
			return scip2.ScanRequest{}, err
		}
	}
	if a.Group == 0 {
		a.Group = 1
	}
	return scip2.ScanRequest{
		Command: name,
		Start:   a.Start,
		End:     a.End,
		Group:   a.Group,
		Cull:    a.Cull,
		Count:   a.Count,
	}, nil
}

// SingleShot fetches one frame in the background with GS, GD or GE. Join it
// with StopGS, then read the frame from the pipeline.
func (s *Session) SingleShot(ctx context.Context, a Acquisition) error {
	if err := s.lockFor("GS", commandStates...); err != nil {
		return err
	}
	defer s.mu.Unlock()

	req, err := s.request(singleShotCommands, a)
	if err != nil {
		return err
	}
	if err := s.pipeline.StartSingle(ctx, s.codec, req, a.Encoding); err != nil {
		return err
	}
	s.resume = s.state
	s.state = StateSingleShot
	return nil
}

// StopGS waits for the single-shot fetch to finish and returns its error.
func (s *Session) StopGS() error {
	if err := s.lockFor("StopGS", StateSingleShot); err != nil {
		return err
	}
	defer s.mu.Unlock()

	err := s.pipeline.Wait()
	s.state = s.resume
	return err
}

// StartMS starts continuous acquisition with MS, MD or ME.
func (s *Session) StartMS(ctx context.Context, a Acquisition) error {
	return s.startStream(ctx, msCommands, a)
}

// StartND starts continuous acquisition with ND or NE. Only the 3-character
// encodings are available.
func (s *Session) StartND(ctx context.Context, a Acquisition) error {
	return s.startStream(ctx, ndCommands, a)
}

func (s *Session) startStream(ctx context.Context, commands map[scip2.Encoding]string, a Acquisition) error {
	if err := s.lockFor("stream", commandStates...); err != nil {
		return err
	}
	defer s.mu.Unlock()

	req, err := s.request(commands, a)
	if err != nil {
		return err
	}
	if s.pipeline.Running() {
		return fmt.Errorf("%s: %w", req.Command, ErrInvalidState)
	}
	if _, err := s.codec.Command(req.Continuous(), 0); err != nil {
		return err
	}
	if err := s.pipeline.StartContinuous(ctx, s.codec, req, a.Encoding); err != nil {
		return multierr.Append(err, s.literal(scip2.CmdQT))
	}
	s.resume = s.state
	s.state = StateStreaming
	s.logf("streaming %s", req.Continuous())
	return nil
}

// StopMS ends a continuous acquisition started with StartMS: it stops the
// producer at the next frame boundary, waits for it, then turns the laser
// off to halt the device's transmission. The producer's own failure, if
// any, is combined with the result of QT.
func (s *Session) StopMS() error {
	return s.stopStream()
}

// StopND ends a continuous acquisition started with StartND.
func (s *Session) StopND() error {
	return s.stopStream()
}

func (s *Session) stopStream() error {
	if err := s.lockFor("stop", StateStreaming); err != nil {
		return err
	}
	defer s.mu.Unlock()

	err := s.pipeline.Stop()
	status, qerr := s.codec.SendLiteral(scip2.CmdQT)
	if qerr == nil {
		qerr = scip2.Accept(scip2.CmdQT, status, 0, 2)
	}
	if qerr != nil {
		s.port.Flush()
	}
	s.state = StateReady
	return multierr.Append(err, qerr)
}
