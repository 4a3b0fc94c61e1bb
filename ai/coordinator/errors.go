package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MasterofNull/hybrid-coordinator/ai/backend"
)

// ErrEmptyQuery rejects a query without text.
var ErrEmptyQuery = errors.New("query text is required")

// Attempt is one backend call of a failed request.
type Attempt struct {
	Backend string
	Err     error
}

// RequestError is the only error Query returns for a well-formed request:
// every backend that was tried failed. It matches backend.ErrBackendUnavailable.
type RequestError struct {
	Reason   string
	Attempts []Attempt
}

func (e *RequestError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Backend, a.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Reason, strings.Join(parts, "; "))
}

func (e *RequestError) Unwrap() []error {
	errs := []error{backend.ErrBackendUnavailable}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Attempted returns the backend names in call order.
func (e *RequestError) Attempted() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Backend
	}
	return names
}
