package types

import "github.com/automatabms/corefabric/internal/scalar"

// ControlCommand is one field-level output of a control algorithm,
// destined for both the ControlCommands (audit) table and the
// Locations (current-state) table.
type ControlCommand struct {
	EquipmentID      string        `json:"equipmentId"`
	LocationID       string        `json:"locationId"`
	CommandType      string        `json:"commandType"`
	Value            scalar.Scalar `json:"value"`
	SourceTag        string        `json:"sourceTag"`
	StatusTag        string        `json:"statusTag"`
	EquipmentTypeTag string        `json:"equipmentTypeTag"`
	TimestampNs      int64         `json:"timestampNs"`
}

// BoolConvention controls which wire encoding a boolean output field
// uses when written to the time-series store. Different downstream
// schemas expect different conventions for the same logical value, and
// the mapping must be preserved field-by-field rather than unified
// (spec design notes, open question #1).
type BoolConvention int

const (
	// BoolAsFloat encodes true/false as 1.0/0.0.
	BoolAsFloat BoolConvention = iota
	// BoolAsQuotedString encodes true/false as "true"/"false".
	BoolAsQuotedString
)

// FieldConvention describes the wire type an equipment-type+field pair
// expects, so the gateway never mixes semantic types for the same
// field across writes.
type FieldConvention struct {
	IsBoolean  bool
	Convention BoolConvention
}

// WriteResult is the gateway's per-field outcome for a writeCommands
// call; one malformed field never loses the rest of the batch.
type WriteResult struct {
	Field string `json:"field"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
