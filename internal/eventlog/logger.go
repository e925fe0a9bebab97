// Package eventlog provides structured logging for control-plane
// decisions: job enqueue/skip reasons, safety triggers, lead-lag
// failovers, and algorithm faults. Every skipped or gated decision is
// logged with (requestId, equipmentId, reason) so skipped work stays
// auditable (spec §7).
package eventlog

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger wraps slog with control-plane-specific event methods and a
// fixed set of base attributes.
type Logger struct {
	logger     *slog.Logger
	locationID string
}

// New creates a Logger with JSON output to stdout, tagged with
// locationId.
func New(locationID string) *Logger {
	return NewWithWriter(locationID, os.Stdout)
}

// NewWithWriter creates a Logger writing JSON to w. Useful for tests.
func NewWithWriter(locationID string, w io.Writer) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("location_id", locationID)
	return &Logger{logger: logger, locationID: locationID}
}

// LogJobEnqueued logs a successful enqueue decision from the smart
// gate.
func (l *Logger) LogJobEnqueued(requestID, equipmentID, jobKey, reason string, priority int) {
	l.logger.Info("job_enqueued",
		"request_id", requestID,
		"equipment_id", equipmentID,
		"job_key", jobKey,
		"priority", priority,
		"reason", reason,
	)
}

// LogJobSkipped logs a skip decision, including "already queued" and
// smart-gate negative results.
func (l *Logger) LogJobSkipped(requestID, equipmentID, reason string) {
	l.logger.Info("job_skipped",
		"request_id", requestID,
		"equipment_id", equipmentID,
		"reason", reason,
	)
}

// LogSafetyTrigger logs a priority-20 safety condition.
func (l *Logger) LogSafetyTrigger(requestID, equipmentID, condition string) {
	l.logger.Warn("safety_trigger",
		"request_id", requestID,
		"equipment_id", equipmentID,
		"condition", condition,
	)
}

// LogAlgorithmFault logs a caught control-algorithm exception and the
// safe state published in its place.
func (l *Logger) LogAlgorithmFault(requestID, equipmentID string, err error) {
	l.logger.Error("algorithm_fault",
		"request_id", requestID,
		"equipment_id", equipmentID,
		"error", err.Error(),
	)
}

// LogFieldsDropped logs algorithm output fields the worker pool's
// safety clamp dropped for not appearing in the equipment type's
// command whitelist (spec Invariant 5).
func (l *Logger) LogFieldsDropped(requestID, equipmentID string, fields []string) {
	l.logger.Warn("fields_dropped",
		"request_id", requestID,
		"equipment_id", equipmentID,
		"fields", fields,
	)
}

// LogSettingsApplied logs a putSettings write following a completed
// job.
func (l *Logger) LogSettingsApplied(requestID, equipmentID, lastModified string) {
	l.logger.Info("settings_applied",
		"request_id", requestID,
		"equipment_id", equipmentID,
		"last_modified", lastModified,
	)
}

// LogLeadLagFailover logs a lead promotion triggered by a fault
// signature.
func (l *Logger) LogLeadLagFailover(groupID, oldLead, newLead, reason string) {
	l.logger.Warn("leadlag_failover",
		"group_id", groupID,
		"old_lead", oldLead,
		"new_lead", newLead,
		"reason", reason,
	)
}

// LogLeadLagChangeover logs a scheduled (non-fault) lead rotation.
func (l *Logger) LogLeadLagChangeover(groupID, oldLead, newLead string) {
	l.logger.Info("leadlag_changeover",
		"group_id", groupID,
		"old_lead", oldLead,
		"new_lead", newLead,
	)
}

// LogBatchRun logs the summary of one batch-enqueuer pass.
func (l *Logger) LogBatchRun(requestID string, queued, alreadyQueued, errors int, durationMs int64) {
	l.logger.Info("batch_run",
		"request_id", requestID,
		"queued", queued,
		"already_queued", alreadyQueued,
		"errors", errors,
		"duration_ms", durationMs,
	)
}

// Global logger singleton, following the teacher's set/get/no-op
// fallback pattern so components constructed before startup wiring
// completes never log against a nil logger.
var (
	global   *Logger
	globalMu sync.RWMutex
)

// SetGlobal installs the process-wide Logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// Global returns the process-wide Logger, or a no-op logger if none
// has been set.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global != nil {
		return global
	}
	return Noop()
}

// Noop returns a Logger that discards all events.
func Noop() *Logger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{logger: slog.New(handler)}
}
