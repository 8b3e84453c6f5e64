package mcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity grades a log entry.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Direction marks protocol traffic entries.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// LogEntry is one append-only record in the registry's log ring.
type LogEntry struct {
	ID        string
	Time      time.Time
	ServerID  string
	Severity  Severity
	Direction Direction // empty for non-traffic entries
	Message   string
}

// LogRing retains the most recent entries in a fixed-capacity ring; the
// oldest entry is evicted first.
type LogRing struct {
	mu      sync.Mutex
	entries []LogEntry // circular
	start   int
	count   int
}

// DefaultLogCapacity bounds the registry log ring unless overridden.
const DefaultLogCapacity = 1000

// NewLogRing creates a ring holding at most capacity entries.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{entries: make([]LogEntry, capacity)}
}

// Append adds an entry, evicting the oldest if the ring is full. Zero ID and
// Time fields are filled in.
func (r *LogRing) Append(e LogEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = e
		r.count++
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % len(r.entries)
}

// appendf formats and appends one entry for serverID.
func (r *LogRing) appendf(serverID string, sev Severity, dir Direction, format string, args ...any) {
	r.Append(LogEntry{
		ServerID:  serverID,
		Severity:  sev,
		Direction: dir,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Entries returns all retained entries, oldest first.
func (r *LogRing) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LogEntry, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(r.start+i)%len(r.entries)])
	}
	return out
}

// EntriesFor returns retained entries for one server, oldest first.
func (r *LogRing) EntriesFor(serverID string) []LogEntry {
	var out []LogEntry
	for _, e := range r.Entries() {
		if e.ServerID == serverID {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes entries for serverID, or all entries when serverID is empty.
func (r *LogRing) Clear(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if serverID == "" {
		r.start = 0
		r.count = 0
		return
	}

	kept := make([]LogEntry, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.entries[(r.start+i)%len(r.entries)]
		if e.ServerID != serverID {
			kept = append(kept, e)
		}
	}
	r.start = 0
	r.count = copy(r.entries, kept)
}

// Len reports the number of retained entries.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
