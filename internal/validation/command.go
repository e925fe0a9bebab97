package validation

import "strings"

// CommandRequest is the decoded body of POST /equipment/{id}/command
// (spec §6), validated synchronously at the HTTP edge before anything
// is enqueued.
type CommandRequest struct {
	Command  string
	Settings map[string]interface{}
	UserID   string
	UserName string
	Priority *int
}

// ValidateCommandRequest rejects malformed operator commands before
// they reach the job queue. Per §7, input validation errors are never
// enqueued.
func ValidateCommandRequest(req CommandRequest) *ValidationReport {
	r := NewValidationReport()

	if strings.TrimSpace(req.Command) == "" {
		r.AddError(CodeRequiredFieldMissing, "command is required", "/command")
	}
	if strings.TrimSpace(req.UserID) == "" {
		r.AddError(CodeMissingUserIdentity, "userId is required", "/userId")
	}
	if strings.TrimSpace(req.UserName) == "" {
		r.AddWarning(CodeMissingUserIdentity, "userName is empty", "/userName")
	}
	if req.Priority != nil && (*req.Priority < 0 || *req.Priority > 20) {
		r.AddError(CodeInvalidPriority, "priority must be between 0 and 20", "/priority")
	}

	return r
}

// ValidateWhitelist checks that every field in fields appears in
// whitelist, returning the report used by the worker pool's safety
// clamp (spec Invariant 5).
func ValidateWhitelist(fields []string, whitelist map[string]struct{}) *ValidationReport {
	r := NewValidationReport()
	for _, f := range fields {
		if _, ok := whitelist[f]; !ok {
			r.AddError(CodeCommandFieldNotAllowed, "field not in equipment-type whitelist", "/"+f)
		}
	}
	return r
}
