package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/scip2/internal/monitoring"
)

// ReplayDevice plays back the sensor-to-host byte stream recorded in a pcap
// capture of an Ethernet SCIP2.0 session. Host writes are recorded, not sent
// anywhere, so a session issuing the same commands as the recorded host sees
// the recorded echoes and frames.
type ReplayDevice struct {
	mu      sync.Mutex
	stream  *bytes.Reader
	written bytes.Buffer
	closed  bool
}

// OpenReplay reads the pcap file at path and keeps the TCP payload sent from
// devicePort (DefaultTCPPort when zero), in capture order.
func OpenReplay(path string, devicePort uint16) (*ReplayDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	stream, err := readDevicePayload(f, devicePort)
	if err != nil {
		return nil, fmt.Errorf("read capture %s: %w", path, err)
	}
	monitoring.Logf("replaying %d bytes of device output from %s", len(stream), path)
	return &ReplayDevice{stream: bytes.NewReader(stream)}, nil
}

func readDevicePayload(r io.Reader, devicePort uint16) ([]byte, error) {
	if devicePort == 0 {
		devicePort = DefaultTCPPort
	}

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	packets := 0
	for {
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		packets++

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok || uint16(tcp.SrcPort) != devicePort {
			continue
		}
		out.Write(tcp.Payload)
	}
	monitoring.Debugf("capture held %d packets", packets)
	return out.Bytes(), nil
}

// Read returns recorded device output, then io.EOF.
func (d *ReplayDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	return d.stream.Read(p)
}

// Write records host output.
func (d *ReplayDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	return d.written.Write(p)
}

// Written returns everything the host wrote so far.
func (d *ReplayDevice) Written() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.written.Bytes()...)
}

// SetBitrate is a no-op for recordings.
func (d *ReplayDevice) SetBitrate(int) error { return nil }

// ResetInput is a no-op: discarding would drop recorded frames.
func (d *ReplayDevice) ResetInput() error { return nil }

// Close stops the replay.
func (d *ReplayDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
