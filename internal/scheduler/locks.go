package scheduler

import (
	"sort"
	"sync"

	"github.com/cheezy/kanban/internal/task"
)

// ColumnLocks serializes position writes per board column.
// Uses a keyed mutex pattern: each column key gets its own mutex, so inserts
// into different columns proceed concurrently while inserts into the same
// column are ordered and never produce overlapping position keys.
type ColumnLocks struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-column mutexes
}

// NewColumnLocks creates a new ColumnLocks.
func NewColumnLocks() *ColumnLocks {
	return &ColumnLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// ColumnKey names the lock for one column of one board.
func ColumnKey(boardID string, col task.Column) string {
	return boardID + "/" + string(col)
}

// BoardKeys returns the keys for the given columns of a board, or for every
// column when none are given.
func BoardKeys(boardID string, cols ...task.Column) []string {
	if len(cols) == 0 {
		cols = task.Columns
	}
	keys := make([]string, 0, len(cols))
	for _, c := range cols {
		keys = append(keys, ColumnKey(boardID, c))
	}
	return keys
}

// Lock acquires the mutex for key, creating it on first access.
func (l *ColumnLocks) Lock(key string) {
	l.mu.Lock()
	m, exists := l.locks[key]
	if !exists {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	// Acquire outside the manager lock to avoid contention
	m.Lock()
}

// Unlock releases the mutex for key.
func (l *ColumnLocks) Unlock(key string) {
	l.mu.Lock()
	m, exists := l.locks[key]
	l.mu.Unlock()

	if exists {
		m.Unlock()
	}
}

// LockAll acquires every key after de-duplicating and sorting them, so two
// callers locking overlapping column sets can never deadlock.
// It returns the function that releases them.
func (l *ColumnLocks) LockAll(keys []string) func() {
	sorted := dedupeSorted(keys)
	for _, k := range sorted {
		l.Lock(k)
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			l.Unlock(sorted[i])
		}
	}
}

func dedupeSorted(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, k := range sorted[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
