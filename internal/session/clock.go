package session

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/scip2/internal/scip2"
)

// SyncTime pairs a device clock reading with the host time it corresponds
// to, assuming the request and the reply took equally long.
type SyncTime struct {
	Host time.Time
	// Device is the device clock in milliseconds, wrapping at 2^24.
	Device uint32
	// RoundTrip is the time between sending TM1 and reading its value.
	RoundTrip time.Duration
}

// GetStartTime estimates the host time at which the device clock read zero
// and remembers it for HostTime. The latency of TM1 is not compensated: the
// reading is taken to be the device clock at the moment TM1 was sent.
func (s *Session) GetStartTime() (time.Time, error) {
	r, err := s.readClock()
	if err != nil {
		return time.Time{}, err
	}
	start := r.sent.Add(-time.Duration(r.device) * time.Millisecond)

	s.mu.Lock()
	s.startTime = start
	s.synced = true
	s.mu.Unlock()
	return start, nil
}

// GetSyncTime reads the device clock once and returns it with the host time
// halfway through the exchange.
func (s *Session) GetSyncTime() (SyncTime, error) {
	r, err := s.readClock()
	if err != nil {
		return SyncTime{}, err
	}
	rtt := r.received.Sub(r.sent)
	return SyncTime{
		Host:      r.sent.Add(rtt / 2),
		Device:    r.device,
		RoundTrip: rtt,
	}, nil
}

// deviceClockPeriod is how long the 24-bit millisecond device clock takes to
// wrap, about 4h40m.
const deviceClockPeriod = (1 << 24) * time.Millisecond

// HostTime converts a device timestamp, as carried by frames, to host time.
// It returns the zero time until GetStartTime has succeeded. Wraps of the
// device clock are resolved against the host clock, so a timestamp maps to
// the wrap period closest to now.
func (s *Session) HostTime(deviceMS uint32) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.synced {
		return time.Time{}
	}
	t := s.startTime.Add(time.Duration(deviceMS) * time.Millisecond)
	if behind := s.clock.Now().Sub(t); behind > deviceClockPeriod/2 {
		t = t.Add((behind + deviceClockPeriod/2) / deviceClockPeriod * deviceClockPeriod)
	}
	return t
}

type clockReading struct {
	sent     time.Time
	received time.Time
	device   uint32
}

// readClock runs TM0, TM1 and TM2. A failure in TM1 still sends TM2 so the
// device leaves timing mode.
func (s *Session) readClock() (clockReading, error) {
	if err := s.lockFor("TM", commandStates...); err != nil {
		return clockReading{}, err
	}
	defer s.mu.Unlock()

	if _, err := s.codec.Command(scip2.CmdTM0, 0, 2); err != nil {
		return clockReading{}, err
	}

	var r clockReading
	var err error
	r.sent = s.clock.Now()
	r.device, err = s.readDeviceClock()
	r.received = s.clock.Now()
	if err != nil {
		_, tm2 := s.codec.Command(scip2.CmdTM2, 0, 3)
		return clockReading{}, multierr.Append(err, tm2)
	}

	if _, err := s.codec.Command(scip2.CmdTM2, 0, 3); err != nil {
		return clockReading{}, err
	}
	return r, nil
}

func (s *Session) readDeviceClock() (uint32, error) {
	status, err := s.codec.Send(scip2.CmdTM1)
	if err != nil {
		return 0, err
	}
	if status != scip2.StatusOK {
		if err := s.codec.ExpectTerminator(); err != nil {
			return 0, fmt.Errorf("TM1: %w", err)
		}
		return 0, scip2.Accept(scip2.CmdTM1, status, scip2.StatusOK)
	}
	value, err := s.codec.ReadValue(4)
	if err != nil {
		return 0, fmt.Errorf("TM1 value: %w", err)
	}
	if err := s.codec.ExpectTerminator(); err != nil {
		return 0, fmt.Errorf("TM1: %w", err)
	}
	return value, nil
}
