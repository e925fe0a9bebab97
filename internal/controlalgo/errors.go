package controlalgo

import "fmt"

// RegistrationError represents a failure registering an Algorithm.
type RegistrationError struct {
	EquipmentType string
	Message       string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("controlalgo: registration failed for %q: %s", e.EquipmentType, e.Message)
}

// NewRegistrationError creates a RegistrationError.
func NewRegistrationError(equipmentType, message string) *RegistrationError {
	return &RegistrationError{EquipmentType: equipmentType, Message: message}
}

// FaultError wraps a recovered algorithm panic or computation failure,
// the trigger for the worker pool's safe-state publish + job-failed
// path (spec §4.6 Failure semantics).
type FaultError struct {
	EquipmentID string
	Algorithm   string
	Cause       interface{}
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("controlalgo: algorithm %q faulted for equipment %q: %v", e.Algorithm, e.EquipmentID, e.Cause)
}
