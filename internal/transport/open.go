package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/scip2/internal/timeutil"
)

// Target prefixes understood by Open.
const (
	TCPPrefix  = "tcp://"
	PcapPrefix = "pcap://"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// Bitrate is the initial serial rate. Ignored by TCP and replay targets.
	Bitrate int
	// ReadTimeout bounds each read. Defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
	// Clock drives settling delays.
	Clock timeutil.Clock
	// ReplayPort is the device-side TCP port in a pcap capture.
	ReplayPort uint16
}

// Kind identifies the class of a target string.
type Kind int

const (
	KindSerial Kind = iota
	KindTCP
	KindReplay
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindReplay:
		return "replay"
	default:
		return "serial"
	}
}

// ParseTarget classifies target and strips its scheme prefix.
func ParseTarget(target string) (Kind, string, error) {
	switch {
	case target == "":
		return 0, "", fmt.Errorf("empty target: %w", ErrUnsupportedTarget)
	case strings.HasPrefix(target, TCPPrefix):
		return KindTCP, strings.TrimPrefix(target, TCPPrefix), nil
	case strings.HasPrefix(target, PcapPrefix):
		return KindReplay, strings.TrimPrefix(target, PcapPrefix), nil
	case strings.HasSuffix(target, ".pcap"):
		return KindReplay, target, nil
	case strings.Contains(target, "://"):
		return 0, "", fmt.Errorf("%s: %w", target, ErrUnsupportedTarget)
	}
	return KindSerial, target, nil
}

// Open opens target exclusively and wraps it in a Port. Serial paths are
// locked against other processes as well as this one.
func Open(ctx context.Context, target string, opts OpenOptions) (*Port, error) {
	kind, name, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	release, err := acquire(name, kind == KindSerial)
	if err != nil {
		return nil, err
	}

	var dev Device
	switch kind {
	case KindTCP:
		dev, err = OpenTCP(ctx, name, opts.ReadTimeout)
	case KindReplay:
		dev, err = OpenReplay(name, opts.ReplayPort)
	default:
		dev, err = OpenSerial(name, PortOptions{BaudRate: opts.Bitrate, ReadTimeout: opts.ReadTimeout})
	}
	if err != nil {
		release()
		return nil, err
	}

	port := NewPort(dev, target, Options{Clock: opts.Clock})
	port.release = release
	if sd, ok := dev.(*SerialDevice); ok {
		port.bitrate = sd.mode.BaudRate
	}
	return port, nil
}
