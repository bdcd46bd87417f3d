package playstore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no play with the requested id exists.
var ErrNotFound = errors.New("play not found")

// IntegrityError reports a play record that failed invariants on load. The
// record is quarantined and never acted on.
type IntegrityError struct {
	PlayID string
	Path   string
	Err    error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("play %s: integrity check failed (%s): %v", e.PlayID, e.Path, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }
