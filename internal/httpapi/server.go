// Package httpapi implements the HTTP surface named in spec §6: the
// cron-driven entry point for the batch enqueuer (C9), the operator
// command/state/status endpoints, and nothing else — dashboards,
// authentication beyond the shared-secret check, and the UI itself
// are external collaborators (spec §1).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/automatabms/corefabric/internal/artifacts"
	"github.com/automatabms/corefabric/internal/batchenqueue"
	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/otel"
	"github.com/automatabms/corefabric/internal/statestore"
	"github.com/automatabms/corefabric/internal/types"
	"github.com/automatabms/corefabric/internal/validation"
)

// Server wires the HTTP surface to the control-plane components it
// drives. One Server serves every location: requests are routed to
// the right per-location queue/state by equipment id, resolved
// through the roster.
type Server struct {
	addr      string
	secretKey string
	roster    *config.Roster
	state     *statestore.Store
	queue     *jobqueue.Queue
	enqueuer  *batchenqueue.Enqueuer
	artifacts artifacts.Store
	tracer    *otel.Tracer

	server *http.Server
}

// New creates a Server. artifactStore may be nil, in which case
// debug=true requests are accepted but produce no on-disk report.
func New(addr, secretKey string, roster *config.Roster, state *statestore.Store, queue *jobqueue.Queue, enqueuer *batchenqueue.Enqueuer, artifactStore artifacts.Store, tracer *otel.Tracer) *Server {
	return &Server{
		addr:      addr,
		secretKey: secretKey,
		roster:    roster,
		state:     state,
		queue:     queue,
		enqueuer:  enqueuer,
		artifacts: artifactStore,
		tracer:    tracer,
	}
}

// Start builds the mux and begins serving. It returns once the
// listener is accepting, running ListenAndServe in a goroutine; callers
// should call Shutdown on process exit.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/cron-run-logic", s.handleCronRunLogic)
	mux.HandleFunc("/equipment/", s.routeEquipment)
	mux.HandleFunc("/healthz", s.handleHealthz)

	var handler http.Handler = mux
	if s.tracer != nil {
		handler = otel.Middleware(s.tracer)(mux)
	}

	s.server = &http.Server{Addr: s.addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// cronRunResponse is the JSON shape named in spec §6.
type cronRunResponse struct {
	Success         bool   `json:"success"`
	Queued          int    `json:"queued"`
	AlreadyQueued   int    `json:"alreadyQueued"`
	Errors          int    `json:"errors"`
	DurationMs      int64  `json:"durationMs"`
	RequestID       string `json:"requestId"`
	Skipped         bool   `json:"skipped,omitempty"`
	TimeSinceLastMs int64  `json:"timeSinceLastRun,omitempty"`
}

// handleCronRunLogic drives C9. With equipmentId set it runs the
// single-equipment path (2-min result cache); otherwise the full batch
// path guarded by the batch lock (spec §6, §4.8, §8 scenario 6).
func (s *Server) handleCronRunLogic(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	q := r.URL.Query()

	if !s.checkSecret(q.Get("secretKey")) {
		writeUnauthorized(w, requestID)
		return
	}

	force := q.Get("force") == "true"
	debug := q.Get("debug") == "true"
	equipmentID := q.Get("equipmentId")

	ctx := r.Context()
	start := time.Now()

	if equipmentID != "" {
		s.runSingleEquipment(ctx, w, requestID, equipmentID, force, debug, start)
		return
	}
	s.runBatch(ctx, w, requestID, force, debug, start)
}

func (s *Server) runSingleEquipment(ctx context.Context, w http.ResponseWriter, requestID, equipmentID string, force, debug bool, start time.Time) {
	if !force {
		if cached, ok, err := s.state.GetEquipmentResultCache(ctx, equipmentID); err == nil && ok {
			eventlog.Global().LogJobSkipped(requestID, equipmentID, "single-equipment result cache hit")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	outcome, err := s.enqueuer.ProcessSingle(ctx, equipmentID)
	resp := cronRunResponse{Success: true, RequestID: requestID, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		resp.Errors = 1
	case outcome.Err != nil:
		resp.Errors = 1
	case outcome.AlreadyQueued:
		resp.AlreadyQueued = 1
	case outcome.Enqueued:
		resp.Queued = 1
	}

	cacheable := map[string]interface{}{
		"success":       resp.Success,
		"queued":        resp.Queued,
		"alreadyQueued": resp.AlreadyQueued,
		"errors":        resp.Errors,
		"durationMs":    resp.DurationMs,
		"requestId":     resp.RequestID,
	}
	if putErr := s.state.PutEquipmentResultCache(ctx, equipmentID, cacheable, config.SingleEquipmentResultCacheTTL); putErr != nil {
		eventlog.Global().LogAlgorithmFault(requestID, equipmentID, putErr)
	}

	if debug {
		s.writeDebugArtifact(requestID, map[string]interface{}{"equipmentId": equipmentID, "outcome": cacheable})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runBatch(ctx context.Context, w http.ResponseWriter, requestID string, force, debug bool, start time.Time) {
	summary, err := s.enqueuer.Run(ctx, force)
	if err != nil {
		writeInternalError(w, requestID, err)
		return
	}

	if summary.LockSkipped {
		resp := cronRunResponse{
			Success:         true,
			Skipped:         true,
			RequestID:       requestID,
			TimeSinceLastMs: time.Since(start).Milliseconds(),
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp := cronRunResponse{
		Success:       true,
		Queued:        summary.Queued,
		AlreadyQueued: summary.AlreadyQueued,
		Errors:        summary.Errors,
		DurationMs:    time.Since(start).Milliseconds(),
		RequestID:     requestID,
	}
	if debug {
		s.writeDebugArtifact(requestID, map[string]interface{}{
			"locationsSeen": summary.LocationsSeen,
			"equipmentSeen": summary.EquipmentSeen,
			"queued":        summary.Queued,
			"alreadyQueued": summary.AlreadyQueued,
			"errors":        summary.Errors,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeDebugArtifact(requestID string, report map[string]interface{}) {
	if s.artifacts == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	if _, err := s.artifacts.SaveArtifact(requestID, artifacts.ArtifactTypeDebugReport, "batch.json", data); err != nil {
		eventlog.Global().LogAlgorithmFault(requestID, "", err)
	}
}

// routeEquipment dispatches /equipment/{id}/command, /equipment/{id}/state,
// and /equipment/{id}/status/{jobId}.
func (s *Server) routeEquipment(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/equipment/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	equipmentID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "command" && r.Method == http.MethodPost:
		s.handleCommand(w, r, equipmentID)
	case len(parts) == 2 && parts[1] == "state" && r.Method == http.MethodGet:
		s.handleState(w, r, equipmentID)
	case len(parts) == 3 && parts[1] == "status" && r.Method == http.MethodGet:
		s.handleStatus(w, r, equipmentID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

type commandRequestBody struct {
	Command  string                 `json:"command"`
	Settings map[string]interface{} `json:"settings"`
	UserID   string                 `json:"userId"`
	UserName string                 `json:"userName"`
	Priority *int                   `json:"priority"`
}

// handleCommand implements POST /equipment/{id}/command (spec §6,
// §8 scenario 2): validates synchronously at the edge (never
// enqueuing a rejected request, per §7), writes the operator's settings
// to C2, then pushes a job onto C3 so C7 applies it.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, equipmentID string) {
	requestID := uuid.NewString()

	var body commandRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidationError(w, requestID, validationReportFor("body", "INVALID_FORMAT", "request body is not valid JSON"))
		return
	}

	report := validation.ValidateCommandRequest(validation.CommandRequest{
		Command:  body.Command,
		Settings: body.Settings,
		UserID:   body.UserID,
		UserName: body.UserName,
		Priority: body.Priority,
	})

	eq, ok := s.roster.Lookup(equipmentID)
	if !ok {
		report.AddError(validation.CodeUnknownEquipment, "equipment id not found in roster", "/equipmentId")
	}
	if !report.OK {
		writeValidationError(w, requestID, report)
		return
	}

	priority := config.PriorityDefaultOperatorCommand
	if body.Priority != nil {
		priority = *body.Priority
	}
	if body.Command == "EMERGENCY_SHUTDOWN" {
		priority = config.PriorityEmergencyShutdown
	}

	ctx := r.Context()
	if err := s.applyOperatorSettings(ctx, equipmentID, body); err != nil {
		writeInternalError(w, requestID, err)
		return
	}

	jobKey := eq.JobKey()
	result, err := s.queue.Enqueue(ctx, types.Job{
		JobKey:      jobKey,
		EquipmentID: equipmentID,
		LocationID:  eq.LocationID,
		Type:        eq.Type,
		Priority:    priority,
		Reason:      "operator command: " + body.Command,
	})
	if err != nil {
		writeInternalError(w, requestID, err)
		return
	}

	eventlog.Global().LogJobEnqueued(requestID, equipmentID, jobKey, "operator command", priority)
	otel.GetGlobalMetrics().RecordJobEnqueued(ctx, priority, "operator_command")

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"requestId":     requestID,
		"jobKey":        jobKey,
		"alreadyQueued": result.AlreadyQueued,
	})
}

// applyOperatorSettings merges the operator's requested settings into
// the equipment's EquipmentSettings record, advancing lastModified
// strictly (Invariant 4) before the job is enqueued, matching the spec
// §1 operator path "UI -> C2 (settings) + C3 (command job)".
func (s *Server) applyOperatorSettings(ctx context.Context, equipmentID string, body commandRequestBody) error {
	existing, err := s.state.GetSettings(ctx, equipmentID)
	if err != nil && !statestore.IsNotFound(err) {
		return err
	}
	settings := existing
	if settings == nil {
		settings = &types.EquipmentSettings{EquipmentID: equipmentID, Enabled: true, Setpoints: map[string]float64{}}
	}
	if settings.Setpoints == nil {
		settings.Setpoints = map[string]float64{}
	}
	if settings.Auxiliary == nil {
		settings.Auxiliary = map[string]bool{}
	}

	for k, v := range body.Settings {
		switch val := v.(type) {
		case float64:
			settings.Setpoints[k] = val
		case bool:
			if k == "enabled" {
				settings.Enabled = val
			} else if k == "isLead" {
				settings.IsLead = val
			} else {
				settings.Auxiliary[k] = val
			}
		}
	}
	if body.Command == "EMERGENCY_SHUTDOWN" {
		settings.Enabled = false
	}

	settings.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
	settings.ModifiedBy = body.UserID

	if err := s.state.PutSettings(ctx, settings); err != nil {
		return err
	}
	eventlog.Global().LogSettingsApplied("", equipmentID, settings.LastModified)
	return nil
}

// handleState implements GET /equipment/{id}/state: EquipmentSettings
// plus the derived oarSetpoint (spec §6), computed from the
// outdoorTempHint setpoint in the equipment's settings (and omitted
// when no hint is stored) so the dashboard can show the same curve the
// air-handler algorithm uses without duplicating it.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request, equipmentID string) {
	requestID := uuid.NewString()
	ctx := r.Context()

	settings, err := s.state.GetSettings(ctx, equipmentID)
	if err != nil {
		if statestore.IsNotFound(err) {
			writeNotFound(w, requestID, "equipment settings not found")
			return
		}
		writeInternalError(w, requestID, err)
		return
	}

	resp := map[string]interface{}{
		"equipmentId":  settings.EquipmentID,
		"enabled":      settings.Enabled,
		"setpoints":    settings.Setpoints,
		"isLead":       settings.IsLead,
		"auxiliary":    settings.Auxiliary,
		"lastModified": settings.LastModified,
		"modifiedBy":   settings.ModifiedBy,
	}
	if outdoor, ok := settings.Setpoints["outdoorTempHint"]; ok {
		resp["oarSetpoint"] = controlalgo.OARSetpoint(outdoor)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus implements GET /equipment/{id}/status/{jobId}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, equipmentID, jobID string) {
	requestID := uuid.NewString()
	status, err := s.state.GetStatus(r.Context(), jobID)
	if err != nil {
		if statestore.IsNotFound(err) {
			writeNotFound(w, requestID, "job status not found or expired")
			return
		}
		writeInternalError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) checkSecret(provided string) bool {
	return s.secretKey != "" && provided == s.secretKey
}

func validationReportFor(pointer, code, message string) *validation.ValidationReport {
	r := validation.NewValidationReport()
	r.AddError(code, message, "/"+pointer)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeValidationError(w http.ResponseWriter, requestID string, report *validation.ValidationReport) {
	env := validation.NewValidationError(report)
	env.Error.Details["requestId"] = requestID
	writeJSON(w, http.StatusBadRequest, env)
}

func writeUnauthorized(w http.ResponseWriter, requestID string) {
	writeJSON(w, http.StatusUnauthorized, validation.ErrorEnvelope{
		Error: validation.ErrorDetail{
			ErrorType:    validation.ErrorTypeUnauthorized,
			ErrorCode:    "INVALID_SECRET_KEY",
			ErrorMessage: "missing or invalid secretKey",
			Retryable:    false,
			Details:      map[string]interface{}{"requestId": requestID},
		},
	})
}

func writeNotFound(w http.ResponseWriter, requestID, message string) {
	writeJSON(w, http.StatusNotFound, validation.ErrorEnvelope{
		Error: validation.ErrorDetail{
			ErrorType:    validation.ErrorTypeNotFound,
			ErrorCode:    "NOT_FOUND",
			ErrorMessage: message,
			Retryable:    false,
			Details:      map[string]interface{}{"requestId": requestID},
		},
	})
}

func writeInternalError(w http.ResponseWriter, requestID string, err error) {
	eventlog.Global().LogAlgorithmFault(requestID, "", err)
	writeJSON(w, http.StatusInternalServerError, validation.ErrorEnvelope{
		Error: validation.ErrorDetail{
			ErrorType:    validation.ErrorTypeInternal,
			ErrorCode:    "INTERNAL_ERROR",
			ErrorMessage: err.Error(),
			Retryable:    true,
			Details:      map[string]interface{}{"requestId": requestID},
		},
	})
}
