package transport

import (
	"fmt"
	"sync"
)

// Targets held by this process. Serial paths are additionally protected
// across processes by an advisory file lock (see lockFile).
var (
	heldMu sync.Mutex
	held   = map[string]bool{}
)

// acquire takes the exclusive lock on target. When fileLock is set the lock
// also covers other processes. The returned function releases it.
func acquire(target string, fileLock bool) (func() error, error) {
	heldMu.Lock()
	defer heldMu.Unlock()

	if held[target] {
		return nil, fmt.Errorf("%s: %w", target, ErrLocked)
	}

	unlock := func() error { return nil }
	if fileLock {
		var err error
		unlock, err = lockFile(target)
		if err != nil {
			return nil, err
		}
	}

	held[target] = true
	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			err = unlock()
			heldMu.Lock()
			delete(held, target)
			heldMu.Unlock()
		})
		return err
	}, nil
}
