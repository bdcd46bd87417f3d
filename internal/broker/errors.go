package broker

import (
	"errors"
	"fmt"
)

// ErrRejected means the broker refused the order. The play restores to its
// pre-submission state with a diagnostic instead of retrying.
var ErrRejected = errors.New("order rejected")

// ErrUnavailable means the broker could not be reached or the circuit is
// open. Callers skip the cycle and retry later.
var ErrUnavailable = errors.New("broker unavailable")

// ErrNotFound means the broker has no record of the requested order.
var ErrNotFound = errors.New("order not found")

// APIError is a non-2xx response from the broker API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API status %d: %s", e.Status, e.Body)
}

// IsPermanent reports whether err is a 4xx API error that retrying cannot
// fix. 429 is excluded since backing off can help.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}
