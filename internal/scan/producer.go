package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/scip2/internal/monitoring"
	"github.com/banshee-data/scip2/internal/scip2"
)

const trailLines = 64

// StartSingle fetches exactly one frame in the background: it sends
// req.SingleShot(), decodes the reply into the write slot and makes it the
// read candidate. Use Wait to join it.
func (p *Pipeline) StartSingle(ctx context.Context, codec *scip2.Codec, req scip2.ScanRequest, enc scip2.Encoding) error {
	if req.Group == 0 {
		req.Group = 1
	}
	return p.start(ctx, "single", 2, func(ctx context.Context) error {
		return p.runSingle(ctx, codec, req, enc)
	})
}

// StartContinuous decodes streamed frames for req until the device reports
// the last requested scan, the callback returns false, a frame fails, or ctx
// is cancelled. The streaming command must already have been accepted.
// req must be exactly the request that was sent, since every frame's echo is
// checked against it.
func (p *Pipeline) StartContinuous(ctx context.Context, codec *scip2.Codec, req scip2.ScanRequest, enc scip2.Encoding) error {
	return p.start(ctx, "continuous", 3, func(ctx context.Context) error {
		return p.runContinuous(ctx, codec, req, enc)
	})
}

func (p *Pipeline) runSingle(ctx context.Context, codec *scip2.Codec, req scip2.ScanRequest, enc scip2.Encoding) error {
	if ctx.Err() != nil {
		return nil
	}

	p.roleMu.Lock()
	target := p.write
	if target == p.held {
		// The consumer still holds the old frame; overwrite the unread one.
		target = p.read
		p.update = false
	}
	cb := p.callback
	p.roleMu.Unlock()

	tr := newTrail(trailLines)
	c := codec.WithLineHook(tr.add)
	s := p.slots[target]

	s.mu.Lock()
	s.configure(req, enc)
	state, err := fillSingle(c, s, req, enc)
	if err != nil {
		s.Error = state
		s.mu.Unlock()
		p.reportFailure(req, state, err, tr)
		return err
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		p.discarded.Inc()
		return nil
	}
	if cb != nil {
		cb(s)
	}
	stamp := s.Timestamp
	s.mu.Unlock()

	p.roleMu.Lock()
	p.read, p.write = target, 1-target
	p.update = true
	p.roleMu.Unlock()

	p.frames.Inc()
	p.lastStamp.Store(stamp)
	return nil
}

func fillSingle(c *scip2.Codec, s *Scan, req scip2.ScanRequest, enc scip2.Encoding) (ErrorState, error) {
	command := req.SingleShot()
	status, err := c.Send(command)
	if err != nil {
		return ErrorFatal, err
	}
	if status != scip2.StatusOK {
		return ErrorFatal, &scip2.StatusError{Command: command, Status: status}
	}

	stamp, err := c.ReadValue(scip2.Encoding4.Width())
	if err != nil {
		return ErrorRecoverable, fmt.Errorf("timestamp: %w", err)
	}
	s.Timestamp = stamp

	s.grow(requiredCapacity(req, enc))
	n, err := c.ReadBlock(s.storage, enc.Width())
	if err != nil {
		return ErrorRecoverable, fmt.Errorf("data: %w", err)
	}
	s.Samples = s.storage[:n]
	return ErrorNone, nil
}

func (p *Pipeline) runContinuous(ctx context.Context, codec *scip2.Codec, req scip2.ScanRequest, enc scip2.Encoding) error {
	tr := newTrail(trailLines)
	c := codec.WithLineHook(tr.add)

	for {
		if ctx.Err() != nil {
			return nil
		}

		p.roleMu.Lock()
		s := p.slots[p.write]
		cb := p.callback
		p.roleMu.Unlock()

		s.mu.Lock()
		s.configure(req, enc)
		remaining, state, err := fillFrame(c, s, req, enc)
		if err != nil {
			s.Error = state
			s.mu.Unlock()
			p.reportFailure(req, state, err, tr)
			return err
		}
		if ctx.Err() != nil {
			s.mu.Unlock()
			p.discarded.Inc()
			return nil
		}
		keep := true
		if cb != nil {
			keep = cb(s)
		}
		stamp := s.Timestamp
		s.mu.Unlock()

		if !keep {
			monitoring.Debugf("scan: callback stopped %s", req.Command)
			return nil
		}

		p.roleMu.Lock()
		p.write, p.ready = p.ready, p.write
		p.update = true
		p.roleMu.Unlock()

		p.frames.Inc()
		p.lastStamp.Store(stamp)

		if remaining == 0 && req.Count != 0 {
			monitoring.Debugf("scan: %s delivered all %d scans", req.Command, req.Count)
			return nil
		}
	}
}

// fillFrame decodes one streamed frame: echo with the remaining-scan count,
// status 99, timestamp, then data up to the blank line.
func fillFrame(c *scip2.Codec, s *Scan, req scip2.ScanRequest, enc scip2.Encoding) (int, ErrorState, error) {
	s.grow(requiredCapacity(req, enc))

	echo, err := c.ReadLine()
	if err != nil {
		return 0, ErrorFatal, fmt.Errorf("frame echo: %w", err)
	}
	remaining, err := req.ParseFrameEcho(echo)
	if err != nil {
		return 0, ErrorFatal, err
	}

	status, err := c.ReadStreamStatus()
	if err != nil {
		if errors.Is(err, scip2.ErrMalformed) {
			return remaining, ErrorRecoverable, err
		}
		return remaining, ErrorFatal, err
	}
	if status != scip2.StatusStreaming {
		return remaining, ErrorRecoverable, &scip2.StatusError{Command: req.Command, Status: status}
	}

	stamp, err := c.ReadValue(scip2.Encoding4.Width())
	if err != nil {
		return remaining, ErrorRecoverable, fmt.Errorf("timestamp: %w", err)
	}
	s.Timestamp = stamp

	n, err := c.ReadBlock(s.storage, enc.Width())
	if err != nil {
		return remaining, ErrorRecoverable, fmt.Errorf("data: %w", err)
	}
	s.Samples = s.storage[:n]
	return remaining, ErrorNone, nil
}

func (p *Pipeline) reportFailure(req scip2.ScanRequest, state ErrorState, err error, tr *trail) {
	p.fail(state, err)
	monitoring.Logf("scan: %s frame failed (%s): %v", req.Command, state, err)
	monitoring.Debugf("scan: last lines received:\n%s", tr)
}
