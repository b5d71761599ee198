package scan

import (
	"strings"
)

// trail keeps the most recent lines a producer read so a failed frame can be
// logged with its context. Each task owns its own trail.
type trail struct {
	lines []string
	next  int
	full  bool
}

func newTrail(size int) *trail {
	return &trail{lines: make([]string, size)}
}

func (t *trail) add(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// String renders the trail oldest first, one line per row.
func (t *trail) String() string {
	var out []string
	if t.full {
		out = append(out, t.lines[t.next:]...)
	}
	out = append(out, t.lines[:t.next]...)
	return strings.Join(out, "\n")
}
