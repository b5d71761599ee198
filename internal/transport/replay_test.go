package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type segment struct {
	fromDevice bool
	payload    string
}

func writeCapture(t *testing.T, segments []segment) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	host := net.IP{192, 168, 0, 2}
	device := net.IP{192, 168, 0, 10}
	ts := time.Unix(1700000000, 0)
	for i, seg := range segments {
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP}
		tcp := &layers.TCP{PSH: true, ACK: true, Window: 1024, Seq: uint32(i)}
		if seg.fromDevice {
			ip.SrcIP, ip.DstIP = device, host
			tcp.SrcPort, tcp.DstPort = DefaultTCPPort, 50000
		} else {
			ip.SrcIP, ip.DstIP = host, device
			tcp.SrcPort, tcp.DstPort = 50000, DefaultTCPPort
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(seg.payload)))
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestOpenReplay(t *testing.T) {
	path := writeCapture(t, []segment{
		{false, "BM\n"},
		{true, "BM\n00P\n"},
		{true, "\n"},
		{false, "QT\n"},
		{true, "QT\n00P\n\n"},
	})

	dev, err := OpenReplay(path, 0)
	require.NoError(t, err)
	port := NewPort(dev, path, Options{})

	var lines []string
	for {
		line, err := port.ReadLine()
		if err != nil {
			break
		}
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"BM", "00P", "", "QT", "00P", ""}, lines)

	require.NoError(t, port.WriteLine("BM"))
	assert.Equal(t, "BM\n", string(dev.Written()))
	require.NoError(t, port.Close())
}

func TestOpenReplay_ResetKeepsStream(t *testing.T) {
	path := writeCapture(t, []segment{{true, "VV\n00P\n"}})
	dev, err := OpenReplay(path, DefaultTCPPort)
	require.NoError(t, err)

	require.NoError(t, dev.ResetInput())
	buf := make([]byte, 16)
	n, err := dev.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "VV\n00P\n", string(buf[:n]))
}

func TestOpenReplay_Missing(t *testing.T) {
	_, err := OpenReplay(filepath.Join(t.TempDir(), "nope.pcap"), 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_ReplayTarget(t *testing.T) {
	path := writeCapture(t, []segment{{true, "RS\n00P\n\n"}})

	port, err := Open(context.Background(), PcapPrefix+path, OpenOptions{})
	require.NoError(t, err)
	defer port.Close()

	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "RS", line)
	assert.Equal(t, 0, port.Bitrate())
}
