// Package session drives a SCIP2.0 device through link bring-up, laser
// control, single-shot and continuous acquisition, and clock
// synchronisation.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/banshee-data/scip2/internal/monitoring"
	"github.com/banshee-data/scip2/internal/scan"
	"github.com/banshee-data/scip2/internal/scip2"
	"github.com/banshee-data/scip2/internal/timeutil"
	"github.com/banshee-data/scip2/internal/transport"
)

// ProbeBitrates is the order in which bitrates are tried when the device's
// configured rate is unknown. 19200 is the factory default and is tried
// again last.
var ProbeBitrates = []int{19200, 115200, 9600, 38400, 57600, 230400, 460800, 500000, 19200}

const (
	probePasses     = 2
	laserOnAttempts = 3
	laserOnBackoff  = 100 * time.Millisecond
	probeBackoff    = 50 * time.Millisecond
)

// Options configures a session.
type Options struct {
	// Bitrate is the operating rate to switch the device to after probing.
	// Zero keeps the rate the device answered at.
	Bitrate int
	// ReadTimeout bounds each read from the device.
	ReadTimeout time.Duration
	// VerifyChecksum checks checksums on request/response lines as well as
	// on streamed frame status lines.
	VerifyChecksum bool
	// SkipProbe brings the link up with a flush only. Open sets it for TCP
	// and replay targets, which have no bitrate.
	SkipProbe bool
	// Clock drives settling delays and clock synchronisation.
	Clock timeutil.Clock
	// ReplayPort is the device-side TCP port of a pcap replay target.
	ReplayPort uint16
	// OnLine, when set, sees every line read from the device, including
	// streamed frames. It runs on the reading goroutine and must not block.
	OnLine func(line string)
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
}

// Session owns one device link. Methods are safe to call from multiple
// goroutines, but while a single-shot or continuous acquisition runs, only
// the matching stop call and pipeline access are allowed.
type Session struct {
	id       uuid.UUID
	port     *transport.Port
	codec    *scip2.Codec
	clock    timeutil.Clock
	pipeline *scan.Pipeline

	mu        sync.Mutex
	state     State
	resume    State
	params    *Parameters
	startTime time.Time
	synced    bool

	closeOnce sync.Once
	closeErr  error
}

// Open opens target and brings the link up. Serial targets are probed for
// their bitrate; TCP and replay targets are only flushed.
func Open(ctx context.Context, target string, opts Options) (*Session, error) {
	opts.setDefaults()
	kind, _, err := transport.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	if kind != transport.KindSerial {
		opts.SkipProbe = true
	}

	port, err := transport.Open(ctx, target, transport.OpenOptions{
		Bitrate:     ProbeBitrates[0],
		ReadTimeout: opts.ReadTimeout,
		Clock:       opts.Clock,
		ReplayPort:  opts.ReplayPort,
	})
	if err != nil {
		return nil, err
	}

	return Attach(port, opts)
}

// Attach brings the link up on an already open port. The session takes
// ownership of port and closes it if the link cannot be brought up.
func Attach(port *transport.Port, opts Options) (*Session, error) {
	opts.setDefaults()
	s := &Session{
		id:       uuid.New(),
		port:     port,
		codec:    scip2.NewCodec(port, scip2.Options{VerifyChecksum: opts.VerifyChecksum, OnLine: opts.OnLine}),
		clock:    opts.Clock,
		pipeline: scan.NewPipeline(),
		state:    StateProbing,
	}

	if opts.SkipProbe {
		port.Flush()
	} else if err := s.probe(opts.Bitrate); err != nil {
		return nil, multierr.Append(err, port.Close())
	}

	s.state = StateReady
	s.logf("link up on %s at %d bps", port.Target(), port.Bitrate())
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id.String() }

// Target returns the name the port was opened with.
func (s *Session) Target() string { return s.port.Target() }

// Bitrate returns the line rate in use.
func (s *Session) Bitrate() int { return s.port.Bitrate() }

// Pipeline returns the frame pipeline fed by acquisitions.
func (s *Session) Pipeline() *scan.Pipeline { return s.pipeline }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) logf(format string, args ...any) {
	monitoring.Logf("session %s: "+format, append([]any{s.id.String()[:8]}, args...)...)
}

// lockFor takes s.mu and checks the state is one of allowed. On success the
// caller must unlock.
func (s *Session) lockFor(op string, allowed ...State) error {
	s.mu.Lock()
	if !slices.Contains(allowed, s.state) {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%s in state %s: %w", op, state, ErrInvalidState)
	}
	return nil
}

// probe finds the device's current bitrate and, if asked, switches it to
// target.
func (s *Session) probe(target int) error {
	found := 0
	for pass := 0; pass < probePasses && found == 0; pass++ {
		for _, rate := range ProbeBitrates {
			monitoring.Debugf("trying %d bps", rate)
			if err := s.port.SetBitrate(rate); err != nil {
				return err
			}
			s.port.Flush()
			if s.tryLink() {
				found = rate
				break
			}
		}
	}
	if found == 0 {
		return ErrNoLinkFound
	}
	s.logf("device answered at %d bps", found)

	if target == 0 || target == found {
		return nil
	}
	if err := s.switchBitrate(target); err != nil {
		s.logf("warning: staying at %d bps, could not switch to %d: %v", found, target, err)
	}
	return nil
}

// tryLink reports whether the device answers at the current rate.
func (s *Session) tryLink() bool {
	if status, err := s.codec.SendLiteral(scip2.CmdRS); err == nil && scip2.Accept(scip2.CmdRS, status, 0, 2) == nil {
		s.port.Flush()
		return true
	}
	if status, err := s.codec.SendLiteral(scip2.CmdQT); err == nil && scip2.Accept(scip2.CmdQT, status, 0, 2) == nil {
		s.port.Flush()
		return true
	}

	status, err := s.codec.Send(scip2.CmdSCIP2)
	if err == nil {
		err = s.codec.ExpectTerminator()
	}
	if err != nil {
		s.clock.Sleep(probeBackoff)
		s.port.Flush()
		return false
	}
	if status == scip2.StatusOK || status == scip2.StatusAlreadySCIP2 {
		return true
	}
	s.port.Flush()
	return false
}

func (s *Session) switchBitrate(rate int) error {
	if _, err := s.codec.Command(scip2.SS(rate), 0, 3); err != nil {
		return err
	}
	return s.port.SetBitrate(rate)
}

// SetBitrate changes the device's and the line's bitrate.
func (s *Session) SetBitrate(rate int) error {
	if err := s.lockFor("SS", commandStates...); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.switchBitrate(rate)
}

// LaserOn switches the laser on, retrying while the motor spins up.
func (s *Session) LaserOn() error {
	if err := s.lockFor("BM", commandStates...); err != nil {
		return err
	}
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < laserOnAttempts; attempt++ {
		status, err := s.codec.Send(scip2.CmdBM)
		if errors.Is(err, scip2.ErrFatalDeviceState) {
			return err
		}
		if err == nil {
			if err := s.codec.ExpectTerminator(); err != nil {
				return fmt.Errorf("BM: %w", err)
			}
			err = scip2.Accept(scip2.CmdBM, status, 0, 2)
			if err == nil {
				s.state = StateIdle
				return nil
			}
		}
		lastErr = err
		monitoring.Debugf("BM attempt %d: %v", attempt+1, err)

		s.port.Flush()
		s.clock.Sleep(laserOnBackoff)
		if err := s.codec.SendTerminator(); err != nil {
			return err
		}
		s.port.Flush()
		s.clock.Sleep(laserOnBackoff)
	}
	return lastErr
}

// LaserOff switches the laser off.
func (s *Session) LaserOff() error {
	if err := s.lockFor("QT", commandStates...); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.literal(scip2.CmdQT)
}

// Reset resets the device: laser off, stream stopped, bitrate kept.
func (s *Session) Reset() error {
	if err := s.lockFor("RS", commandStates...); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.literal(scip2.CmdRS)
}

// literal sends QT or RS and returns to Ready. Called with s.mu held.
func (s *Session) literal(command string) error {
	status, err := s.codec.SendLiteral(command)
	if err != nil {
		return err
	}
	if err := scip2.Accept(command, status, 0, 2); err != nil {
		return err
	}
	s.state = StateReady
	return nil
}

// SetDeboost sets the motor speed ratio. 0 restores the default speed.
func (s *Session) SetDeboost(deboost int) error {
	if deboost < 0 || deboost > 99 {
		return fmt.Errorf("deboost %d out of range 0-99", deboost)
	}
	if err := s.lockFor("CR", commandStates...); err != nil {
		return err
	}
	defer s.mu.Unlock()
	_, err := s.codec.Command(scip2.CR(deboost), 0, 3)
	return err
}

// Version queries VV.
func (s *Session) Version() (Version, error) {
	if err := s.lockFor("VV", commandStates...); err != nil {
		return Version{}, err
	}
	defer s.mu.Unlock()
	fields, err := s.codec.Query(scip2.CmdVV)
	if err != nil {
		return Version{}, err
	}
	return parseVersion(fields), nil
}

// Parameters queries PP. Later acquisitions are checked against the step
// range it reports.
func (s *Session) Parameters() (Parameters, error) {
	if err := s.lockFor("PP", commandStates...); err != nil {
		return Parameters{}, err
	}
	defer s.mu.Unlock()
	fields, err := s.codec.Query(scip2.CmdPP)
	if err != nil {
		return Parameters{}, err
	}
	p := parseParameters(fields)
	s.params = &p
	return p, nil
}

// Close stops any acquisition, resets the device, sends two terminators and
// releases the port. It is safe to call more than once. Failures of the
// acquisition itself are reported by StopMS, StopND and StopGS, not here.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.pipeline.Stop(); err != nil {
			monitoring.Debugf("acquisition on close: %v", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if _, rerr := s.codec.SendLiteral(scip2.CmdRS); rerr != nil {
			monitoring.Debugf("reset on close: %v", rerr)
		}
		var err error
		err = multierr.Append(err, s.codec.SendTerminator())
		err = multierr.Append(err, s.codec.SendTerminator())
		err = multierr.Append(err, s.port.Close())
		s.pipeline.Close()
		s.state = StateClosed
		s.closeErr = err
		s.logf("closed")
	})
	return s.closeErr
}
