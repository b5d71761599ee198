package scip2

import (
	"fmt"
	"strings"
)

// Field is one KEY:value line of a VV or PP reply.
type Field struct {
	Key   string
	Value string
}

// ParseField splits "KEY:value;c" into its key and value. Lines without a
// ';' carry no field. The checksum c may itself be ';'.
func ParseField(line string) (Field, bool) {
	semi := len(line) - 2
	if semi < 0 || line[semi] != ';' {
		semi = strings.LastIndexByte(line, ';')
	}
	if semi < 0 {
		return Field{}, false
	}
	body := line[:semi]
	key, value, ok := strings.Cut(body, ":")
	if !ok {
		return Field{}, false
	}
	return Field{Key: key, Value: value}, true
}

// Query sends a VV/PP style command and collects its fields up to the
// closing blank line.
func (c *Codec) Query(command string) ([]Field, error) {
	status, err := c.Send(command)
	if err != nil {
		return nil, err
	}

	var fields []Field
	for {
		line, err := c.readLine()
		if err != nil {
			return fields, fmt.Errorf("%s: %w", command, err)
		}
		if line == "" {
			break
		}
		if f, ok := ParseField(line); ok {
			fields = append(fields, f)
		}
	}
	return fields, Accept(command, status, StatusOK)
}
