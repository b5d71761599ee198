package scan

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Callback sees every completed frame on the producer goroutine while the
// frame's lock is held. Returning false stops a continuous acquisition.
//
// The callback must not call Begin, End, Reset, Stop or Close on the same
// pipeline, and must not keep s after it returns.
type Callback func(s *Scan) bool

const noSlot = -1

// Pipeline rotates completed frames from a background producer to one
// consumer. Single-shot acquisitions use two slots (read, write). Continuous
// acquisitions use three (read, ready, write) so the producer never waits for
// the consumer.
//
// Lock order: a producer holds a frame's lock while decoding into it and
// releases it before taking roleMu. Begin takes readerMu, then roleMu, and
// never a frame lock.
type Pipeline struct {
	roleMu   sync.Mutex
	slots    [3]*Scan
	nslots   int
	read     int
	ready    int
	write    int
	held     int
	reading  bool
	update   bool
	failed   ErrorState
	lastErr  error
	callback Callback
	closed   bool

	readerMu sync.Mutex

	taskMu sync.Mutex
	task   *task

	closeOnce sync.Once

	frames    atomic.Uint64
	failures  atomic.Uint64
	discarded atomic.Uint64
	lastStamp atomic.Uint32
}

type task struct {
	kind   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// NewPipeline returns an idle pipeline. Frame storage is allocated by the
// first acquisition that needs it.
func NewPipeline() *Pipeline {
	p := &Pipeline{}
	for i := range p.slots {
		p.slots[i] = &Scan{}
	}
	p.resetRoles(2)
	return p
}

// resetRoles must be called with roleMu held or before the pipeline is shared.
func (p *Pipeline) resetRoles(nslots int) {
	p.nslots = nslots
	p.read, p.write = 0, 1
	p.ready = noSlot
	if nslots == 3 {
		p.ready, p.write = 1, 2
	}
	p.held = noSlot
	p.update = false
}

// SetCallback installs cb for subsequent frames. A nil cb removes it.
func (p *Pipeline) SetCallback(cb Callback) {
	p.roleMu.Lock()
	p.callback = cb
	p.roleMu.Unlock()
}

// Begin hands the newest completed frame to the caller without blocking. It
// returns ErrBusy while another caller holds a frame or when nothing new has
// arrived, and ErrFatal once any frame has failed. Every successful Begin
// must be paired with End.
func (p *Pipeline) Begin() (*Scan, error) {
	if !p.readerMu.TryLock() {
		return nil, ErrBusy
	}

	p.roleMu.Lock()
	defer p.roleMu.Unlock()

	switch {
	case p.closed:
		p.readerMu.Unlock()
		return nil, ErrClosed
	case p.failed != ErrorNone:
		p.readerMu.Unlock()
		return nil, ErrFatal
	case !p.update:
		p.readerMu.Unlock()
		return nil, ErrBusy
	}

	p.update = false
	if p.nslots == 3 {
		p.read, p.ready = p.ready, p.read
	}
	p.held = p.read
	p.reading = true
	return p.slots[p.read], nil
}

// End returns the frame obtained from Begin. Without an outstanding Begin it
// does nothing.
func (p *Pipeline) End() {
	p.roleMu.Lock()
	if !p.reading {
		p.roleMu.Unlock()
		return
	}
	p.reading = false
	p.held = noSlot
	p.roleMu.Unlock()
	p.readerMu.Unlock()
}

// IsError reports whether any frame has failed since the last Reset.
func (p *Pipeline) IsError() bool {
	p.roleMu.Lock()
	defer p.roleMu.Unlock()
	return p.failed != ErrorNone
}

// Err returns the error that failed the pipeline, if any.
func (p *Pipeline) Err() error {
	p.roleMu.Lock()
	defer p.roleMu.Unlock()
	return p.lastErr
}

// Failure returns the worst error state recorded since the last Reset.
func (p *Pipeline) Failure() ErrorState {
	p.roleMu.Lock()
	defer p.roleMu.Unlock()
	return p.failed
}

// Reset clears recorded failures and pending frames so a new acquisition can
// start cleanly. Storage is kept.
func (p *Pipeline) Reset() error {
	if p.Running() {
		return ErrRunning
	}
	if !p.readerMu.TryLock() {
		return ErrBusy
	}
	defer p.readerMu.Unlock()

	for _, s := range p.slots {
		s.mu.Lock()
		s.Error = ErrorNone
		s.mu.Unlock()
	}

	p.roleMu.Lock()
	defer p.roleMu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.failed = ErrorNone
	p.lastErr = nil
	p.resetRoles(p.nslots)
	return nil
}

// Running reports whether a background acquisition is active.
func (p *Pipeline) Running() bool {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()
	return p.task != nil && !p.task.finished()
}

// Wait blocks until the current acquisition ends on its own and returns its
// error.
func (p *Pipeline) Wait() error {
	p.taskMu.Lock()
	t := p.task
	p.taskMu.Unlock()
	if t == nil {
		return nil
	}
	<-t.done
	return t.err
}

// Stop asks the current acquisition to end at the next frame boundary and
// waits for it. The frame being decoded when Stop is called is discarded.
// Stop is safe to call repeatedly.
func (p *Pipeline) Stop() error {
	p.taskMu.Lock()
	t := p.task
	p.taskMu.Unlock()
	if t == nil {
		return nil
	}
	t.cancel()
	<-t.done
	return t.err
}

// Close stops any acquisition and releases frame storage exactly once.
// Begin returns ErrClosed afterwards.
func (p *Pipeline) Close() error {
	err := p.Stop()
	p.closeOnce.Do(func() {
		p.roleMu.Lock()
		p.closed = true
		p.roleMu.Unlock()
		for _, s := range p.slots {
			s.release()
		}
	})
	return err
}

// Stats is a lock-free snapshot of pipeline counters.
type Stats struct {
	Frames        uint64
	Failures      uint64
	Discarded     uint64
	LastTimestamp uint32
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:        p.frames.Load(),
		Failures:      p.failures.Load(),
		Discarded:     p.discarded.Load(),
		LastTimestamp: p.lastStamp.Load(),
	}
}

// start launches run as the pipeline's task.
func (p *Pipeline) start(parent context.Context, kind string, nslots int, run func(ctx context.Context) error) error {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()
	if p.task != nil && !p.task.finished() {
		return ErrRunning
	}

	p.roleMu.Lock()
	if p.closed {
		p.roleMu.Unlock()
		return ErrClosed
	}
	if p.nslots != nslots {
		if p.held != noSlot {
			p.roleMu.Unlock()
			return ErrBusy
		}
		p.resetRoles(nslots)
	}
	p.roleMu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	t := &task{kind: kind, cancel: cancel, done: make(chan struct{})}
	p.task = t
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = run(ctx)
	}()
	return nil
}

// fail records a failed frame. Called without any frame lock held.
func (p *Pipeline) fail(state ErrorState, err error) {
	p.failures.Inc()
	p.roleMu.Lock()
	defer p.roleMu.Unlock()
	if state > p.failed {
		p.failed = state
	}
	if p.lastErr == nil {
		p.lastErr = err
	}
}

func (p *Pipeline) currentCallback() Callback {
	p.roleMu.Lock()
	defer p.roleMu.Unlock()
	return p.callback
}
