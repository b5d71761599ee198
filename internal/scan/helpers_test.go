package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/scip2/internal/scip2"
)

var errExhausted = errors.New("read timeout")

// lineConn serves a fixed script of device lines.
type lineConn struct {
	lines   []string
	written []string
}

func newLineConn(lines ...string) *lineConn { return &lineConn{lines: lines} }

func (c *lineConn) ReadLine() (string, error) {
	if len(c.lines) == 0 {
		return "", errExhausted
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, nil
}

func (c *lineConn) WriteLine(text string) error {
	c.written = append(c.written, text)
	return nil
}

func (c *lineConn) WriteTerminator() error { return c.WriteLine("") }
func (c *lineConn) Flush()                 {}

// streamConn produces streamed frames forever, each with the next timestamp.
type streamConn struct {
	req    scip2.ScanRequest
	values []uint32
	width  int
	stamp  uint32
	queue  []string
}

func (c *streamConn) ReadLine() (string, error) {
	if len(c.queue) == 0 {
		time.Sleep(time.Millisecond)
		c.stamp++
		c.queue = streamFrame(c.req, 0, c.stamp, c.values, c.width)
	}
	line := c.queue[0]
	c.queue = c.queue[1:]
	return line, nil
}

func (c *streamConn) WriteLine(string) error  { return nil }
func (c *streamConn) WriteTerminator() error { return nil }
func (c *streamConn) Flush()                 {}

func steps(n int) []uint32 {
	values := make([]uint32, n)
	for i := range values {
		values[i] = uint32(100 + i)
	}
	return values
}

// streamFrame renders one frame of a continuous acquisition.
func streamFrame(req scip2.ScanRequest, remaining int, stamp uint32, values []uint32, width int) []string {
	lines := []string{
		req.EchoPrefix() + fmt.Sprintf("%02d", remaining),
		scip2.WithChecksum("99"),
		scip2.WithChecksum(scip2.Encode(stamp, 4)),
	}
	lines = append(lines, scip2.EncodeBlock(values, width)...)
	return append(lines, "")
}

// singleShotReply renders the device's answer to a GS/GD/GE request.
func singleShotReply(req scip2.ScanRequest, stamp uint32, values []uint32, width int) []string {
	lines := []string{
		req.SingleShot(),
		scip2.WithChecksum("00"),
		scip2.WithChecksum(scip2.Encode(stamp, 4)),
	}
	lines = append(lines, scip2.EncodeBlock(values, width)...)
	return append(lines, "")
}
