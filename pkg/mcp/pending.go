package mcp

import (
	"sync"
	"time"
)

// pendingResult is the settlement of one in-flight request: a response or an error.
type pendingResult struct {
	resp JSONRPCResponse
	err  error
}

// pendingEntry holds the resolution slot and deadline timer for one request id.
type pendingEntry struct {
	ch    chan pendingResult // buffered 1; the waiter reads exactly once
	timer *time.Timer
}

// pendingTable correlates outgoing request ids to their eventual settlement.
// Each id is settled at most once: resolve, reject, and deadline expiry all
// remove the entry atomically and deliver to the waiter, so whichever fires
// first wins and the rest are no-ops.
type pendingTable struct {
	mu      sync.Mutex
	entries map[int64]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int64]*pendingEntry)}
}

// register creates an entry for id with a deadline and returns the channel
// the caller suspends on. When the deadline fires the entry is rejected with
// a RequestTimeoutError.
func (t *pendingTable) register(id int64, method string, timeout time.Duration) <-chan pendingResult {
	entry := &pendingEntry{ch: make(chan pendingResult, 1)}

	// The timer is armed under the lock: if it fires immediately, the expiry
	// path blocks on the same lock until the entry is visible in the map.
	t.mu.Lock()
	entry.timer = time.AfterFunc(timeout, func() {
		t.reject(id, &RequestTimeoutError{Method: method, After: timeout})
	})
	t.entries[id] = entry
	t.mu.Unlock()

	return entry.ch
}

// resolve settles id with a response. Returns false if the id is unknown
// (already settled, expired, or never registered).
func (t *pendingTable) resolve(id int64, resp JSONRPCResponse) bool {
	entry := t.remove(id)
	if entry == nil {
		return false
	}
	entry.ch <- pendingResult{resp: resp}
	return true
}

// reject settles id with an error. Returns false if the id is unknown.
func (t *pendingTable) reject(id int64, err error) bool {
	entry := t.remove(id)
	if entry == nil {
		return false
	}
	entry.ch <- pendingResult{err: err}
	return true
}

// drainAll settles every outstanding entry with err in one pass. Used on
// teardown so no caller suspends forever.
func (t *pendingTable) drainAll(err error) {
	t.mu.Lock()
	drained := t.entries
	t.entries = make(map[int64]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range drained {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.ch <- pendingResult{err: err}
	}
}

// size reports the number of outstanding requests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// remove takes id out of the table, stopping its timer. Returns nil if absent.
func (t *pendingTable) remove(id int64) *pendingEntry {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}
