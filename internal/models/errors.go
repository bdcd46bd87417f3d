package models

import "fmt"

// ValidationError reports a malformed play field. Plays failing validation
// are quarantined by the store and never acted on.
type ValidationError struct {
	PlayID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.PlayID == "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("play %s: validation: %s: %s", e.PlayID, e.Field, e.Reason)
}

func validationErr(playID, field, format string, args ...interface{}) error {
	return &ValidationError{PlayID: playID, Field: field, Reason: fmt.Sprintf(format, args...)}
}
