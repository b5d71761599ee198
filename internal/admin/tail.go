package admin

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// tailBuffer is the number of lines a slow subscriber may fall behind
// before lines are dropped for it.
const tailBuffer = 256

// LineTap fans protocol lines out to live subscribers. Publish never blocks;
// lines are dropped for subscribers that are not keeping up.
type LineTap struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closed      bool
}

// NewLineTap returns a tap with no subscribers.
func NewLineTap() *LineTap {
	return &LineTap{subscribers: make(map[string]chan string)}
}

// Subscribe returns an id for Unsubscribe and a channel of lines. The
// channel is closed by Unsubscribe or Close.
func (t *LineTap) Subscribe() (string, <-chan string) {
	id := uuid.NewString()
	ch := make(chan string, tailBuffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return id, ch
	}
	t.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (t *LineTap) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[id]; ok {
		close(ch)
		delete(t.subscribers, id)
	}
}

// Publish offers line to every subscriber. It has the signature of a
// session line hook.
func (t *LineTap) Publish(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close ends every subscription.
func (t *LineTap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
}

// serveTail streams lines as server-sent events until the client goes away
// or the tap is closed.
func (t *LineTap) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := t.Subscribe()
	defer t.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case line, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
