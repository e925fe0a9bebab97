package eventlog

import (
	"fmt"
	"sync"
	"time"
)

// AuditEvent is one entry in a bounded, append-only decision log kept
// per location for debugging and read back through Tail; it is not
// part of the cron-run-logic debug=true report.
type AuditEvent struct {
	SequenceID  int64     `json:"sequenceId"`
	Timestamp   time.Time `json:"timestamp"`
	EquipmentID string    `json:"equipmentId"`
	Decision    string    `json:"decision"` // "enqueued" | "skipped" | "safety" | "failed"
	Reason      string    `json:"reason"`
	Priority    int       `json:"priority,omitempty"`
}

// DefaultMaxAuditEvents bounds the in-memory audit log so a busy
// location cannot grow it without limit.
const DefaultMaxAuditEvents = 10000

// AuditLog is a bounded, append-only, thread-safe log of per-equipment
// decisions for one location.
type AuditLog struct {
	mu        sync.Mutex
	events    []AuditEvent
	maxEvents int
	seq       int64
	locationID string
}

// NewAuditLog creates an AuditLog for locationID.
func NewAuditLog(locationID string) *AuditLog {
	return &AuditLog{maxEvents: DefaultMaxAuditEvents, locationID: locationID}
}

// Append adds an event, validating required fields and truncating the
// oldest entry with a warning if the log is at capacity.
func (a *AuditLog) Append(equipmentID, decision, reason string, priority int) error {
	if equipmentID == "" {
		return fmt.Errorf("eventlog: equipmentID required")
	}
	if decision == "" {
		return fmt.Errorf("eventlog: decision required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	evt := AuditEvent{
		SequenceID:  a.seq,
		Timestamp:   time.Now(),
		EquipmentID: equipmentID,
		Decision:    decision,
		Reason:      reason,
		Priority:    priority,
	}

	if len(a.events) >= a.maxEvents {
		Global().logger.Warn("audit_log_truncated",
			"location_id", a.locationID,
			"max_events", a.maxEvents,
		)
		a.events = a.events[1:]
	}
	a.events = append(a.events, evt)
	return nil
}

// Tail returns up to limit events at or after cursor (a SequenceID).
func (a *AuditLog) Tail(cursor int64, limit int) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []AuditEvent
	for _, e := range a.events {
		if e.SequenceID >= cursor {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// GetAll returns a copy of every retained event.
func (a *AuditLog) GetAll() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEvent, len(a.events))
	copy(out, a.events)
	return out
}
