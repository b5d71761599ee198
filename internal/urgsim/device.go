// Package urgsim simulates a Hokuyo URG rangefinder speaking SCIP2.0. The
// device implements transport.Device, producing replies as the host reads
// them, so tests and the -dev mode of urg-monitor can drive the real session
// code without hardware.
package urgsim

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/scip2/internal/monitoring"
	"github.com/banshee-data/scip2/internal/scip2"
	"github.com/banshee-data/scip2/internal/timeutil"
	"github.com/banshee-data/scip2/internal/transport"
)

// SupportedBitrates are the rates an SS command may select.
var SupportedBitrates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 500000}

// Config describes the simulated sensor.
type Config struct {
	// Bitrate is the rate the device is configured for at power on.
	Bitrate int
	// Model and Serial appear in PP and VV replies.
	Model  string
	Serial string
	// StepMin, StepMax and StepFront bound the measurable window.
	StepMin   int
	StepMax   int
	StepFront int
	// ScanInterval is the time between streamed frames.
	ScanInterval time.Duration
	// Range returns the distance in mm for step during frame.
	Range func(step, frame int) uint32
	// Clock drives the sensor timestamp and frame pacing.
	Clock timeutil.Clock
}

func (c *Config) setDefaults() {
	if c.Bitrate == 0 {
		c.Bitrate = 19200
	}
	if c.Model == "" {
		c.Model = "URG-04LX(Hokuyo Automatic Co.,Ltd.)"
	}
	if c.Serial == "" {
		c.Serial = "H0000001"
	}
	if c.StepMax == 0 {
		c.StepMin, c.StepMax, c.StepFront = 44, 725, 384
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = 100 * time.Millisecond
	}
	if c.Range == nil {
		c.Range = func(step, frame int) uint32 {
			return uint32(1000 + (step*7+frame)%3000)
		}
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
}

// stream is an active continuous acquisition.
type stream struct {
	req       scip2.ScanRequest
	enc       scip2.Encoding
	remaining int
}

// Device is a simulated sensor. It is safe for concurrent use.
type Device struct {
	mu  sync.Mutex
	cfg Config

	boot     time.Time
	bitrate  int
	hostRate int
	laserOn  bool
	timeMode bool
	stream   *stream
	frame    int
	closed   bool
	pending  []byte
	out      bytes.Buffer
	commands []string

	// BMFailures makes the next n BM commands fail with status 01.
	BMFailures int
	// UpdateMode makes every status report "1I", as firmware update mode does.
	UpdateMode bool
	// RejectSS makes SS fail with status 04.
	RejectSS bool
}

var _ transport.Device = (*Device)(nil)

// New returns a powered-on device with the laser off.
func New(cfg Config) *Device {
	cfg.setDefaults()
	return &Device{
		cfg:      cfg,
		boot:     cfg.Clock.Now(),
		bitrate:  cfg.Bitrate,
		hostRate: cfg.Bitrate,
	}
}

// Bitrate returns the rate the device currently talks at.
func (d *Device) Bitrate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bitrate
}

// LaserOn reports the laser state.
func (d *Device) LaserOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.laserOn
}

// Streaming reports whether a continuous acquisition is active.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

// Commands returns every command line the device understood.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// SetBitrate records the host's line rate. Bytes exchanged while it differs
// from the device's are lost.
func (d *Device) SetBitrate(rate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hostRate = rate
	return nil
}

// ResetInput drops queued output, including a partly sent frame.
func (d *Device) ResetInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.Reset()
	return nil
}

// Close powers the device off.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Write feeds host bytes to the command parser.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, transport.ErrClosed
	}
	if d.hostRate != d.bitrate {
		return len(p), nil
	}

	d.pending = append(d.pending, p...)
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := string(d.pending[:i])
		d.pending = d.pending[i+1:]
		if line != "" {
			d.handle(line)
		}
	}
	return len(p), nil
}

// Read returns queued replies, generating the next streamed frame when the
// queue is empty. With nothing to send it reports transport.ErrTimeout.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, transport.ErrClosed
	}
	if d.out.Len() == 0 && d.stream != nil && d.hostRate == d.bitrate {
		interval := d.cfg.ScanInterval
		d.mu.Unlock()
		d.cfg.Clock.Sleep(interval)
		d.mu.Lock()
		if d.out.Len() == 0 && d.stream != nil {
			d.emitFrame()
		}
	}
	defer d.mu.Unlock()

	if d.out.Len() == 0 {
		return 0, transport.ErrTimeout
	}
	return d.out.Read(p)
}

func (d *Device) writeLines(lines ...string) {
	for _, l := range lines {
		d.out.WriteString(l)
		d.out.WriteByte('\n')
	}
}

func (d *Device) status(code string) string {
	if d.UpdateMode {
		code = "1I"
	}
	return scip2.WithChecksum(code)
}

func (d *Device) reply(command, code string, body ...string) {
	d.writeLines(command, d.status(code))
	d.writeLines(body...)
	d.writeLines("")
}

func (d *Device) timestamp() uint32 {
	return uint32(d.cfg.Clock.Since(d.boot)/time.Millisecond) & scip2.Mask(4)
}

func (d *Device) handle(line string) {
	d.commands = append(d.commands, line)
	monitoring.Debugf("urgsim < %s", line)

	switch {
	case line == scip2.CmdSCIP2:
		d.reply(line, "0E")
	case line == scip2.CmdRS:
		d.stream, d.laserOn, d.timeMode = nil, false, false
		d.reply(line, "00")
	case line == scip2.CmdQT:
		d.stream, d.laserOn = nil, false
		d.reply(line, "00")
	case line == scip2.CmdBM:
		d.handleBM()
	case strings.HasPrefix(line, "SS") && len(line) == 8:
		d.handleSS(line)
	case strings.HasPrefix(line, "CR") && len(line) == 4:
		d.reply(line, "00")
	case line == scip2.CmdTM0:
		d.timeMode = true
		d.reply(line, "00")
	case line == scip2.CmdTM1:
		if !d.timeMode {
			d.reply(line, "01")
			return
		}
		d.reply(line, "00", scip2.WithChecksum(scip2.Encode(d.timestamp(), 4)))
	case line == scip2.CmdTM2:
		d.timeMode = false
		d.reply(line, "00")
	case line == scip2.CmdVV:
		d.reply(line, "00",
			field("VEND", "Hokuyo Automatic Co.,Ltd."),
			field("PROD", d.cfg.Model),
			field("FIRM", "3.4.03(17/Dec./2012)"),
			field("PROT", "SCIP 2.0"),
			field("SERI", d.cfg.Serial),
		)
	case line == scip2.CmdPP:
		d.reply(line, "00",
			field("MODL", d.cfg.Model),
			field("DMIN", "20"),
			field("DMAX", "5600"),
			field("ARES", "1024"),
			field("AMIN", strconv.Itoa(d.cfg.StepMin)),
			field("AMAX", strconv.Itoa(d.cfg.StepMax)),
			field("AFRT", strconv.Itoa(d.cfg.StepFront)),
			field("SCAN", "600"),
		)
	case isScanCommand(line, "GS", "GD", "GE") && len(line) == 12:
		d.handleSingleShot(line)
	case isScanCommand(line, "MS", "MD", "ME", "ND", "NE") && len(line) == 15:
		d.handleStream(line)
	default:
		d.reply(line, "0E")
	}
}

// field renders a VV/PP line. The checksum covers the key and value.
func field(key, value string) string {
	body := key + ":" + value
	return body + ";" + string(scip2.Checksum(body))
}
