package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// DefaultTCPPort is the SCIP2.0 port of Ethernet URG devices.
const DefaultTCPPort = 10940

// TCPDevice is a Device backed by a TCP connection. Sockets have no bitrate,
// so SetBitrate always succeeds.
type TCPDevice struct {
	conn        net.Conn
	readTimeout time.Duration
}

// OpenTCP dials addr ("host" or "host:port").
func OpenTCP(ctx context.Context, addr string, readTimeout time.Duration) (*TCPDevice, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(DefaultTCPPort))
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &TCPDevice{conn: conn, readTimeout: readTimeout}, nil
}

// Read reads with the configured timeout, reporting expiry as ErrTimeout.
func (d *TCPDevice) Read(p []byte) (int, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(d.readTimeout)); err != nil {
		return 0, err
	}
	n, err := d.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrTimeout
	}
	return n, err
}

// Write writes to the connection.
func (d *TCPDevice) Write(p []byte) (int, error) {
	return d.conn.Write(p)
}

// SetBitrate is a no-op for sockets.
func (d *TCPDevice) SetBitrate(int) error { return nil }

// ResetInput drains whatever the socket has already received.
func (d *TCPDevice) ResetInput() error {
	scratch := make([]byte, 1024)
	for {
		if err := d.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		if _, err := d.conn.Read(scratch); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Close closes the connection.
func (d *TCPDevice) Close() error {
	return d.conn.Close()
}
