package sync

import (
	"fmt"
	"sync"
)

// scopeLocks serializes sync runs per (kind, scope) pair so two concurrent
// runs over the same scope cannot interleave their status transitions. Runs
// over different scopes proceed in parallel.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the (kind, scope) pair and returns the unlock function.
func (l *scopeLocks) acquire(kind string, scopeID int64) func() {
	key := fmt.Sprintf("%s/%d", kind, scopeID)

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
