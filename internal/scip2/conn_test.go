package scip2

import "errors"

var errNoInput = errors.New("no input")

// scriptedConn replays canned device lines and records what the host wrote.
type scriptedConn struct {
	lines   []string
	written []string
	flushes int
	// onWrite lets a test queue the device's reply to a specific command.
	onWrite func(c *scriptedConn, line string)
}

func newScriptedConn(lines ...string) *scriptedConn {
	return &scriptedConn{lines: lines}
}

func (c *scriptedConn) ReadLine() (string, error) {
	if len(c.lines) == 0 {
		return "", errNoInput
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, nil
}

func (c *scriptedConn) WriteLine(text string) error {
	c.written = append(c.written, text)
	if c.onWrite != nil {
		c.onWrite(c, text)
	}
	return nil
}

func (c *scriptedConn) WriteTerminator() error { return c.WriteLine("") }

func (c *scriptedConn) Flush() {
	c.flushes++
	c.lines = nil
}
