package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing users, tasks and unresolvable references.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguousReference means a referring phrase matched more than one candidate.
	ErrAmbiguousReference = errors.New("ambiguous reference")
	// ErrPermissionDenied means the acting user's role lacks the required capability.
	ErrPermissionDenied = errors.New("permission denied")
)

// ParseError reports an unparseable time or recurrence phrase. Fragment holds
// the part of the input that could not be understood, so the user can be asked
// to rephrase exactly that.
type ParseError struct {
	Fragment string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Fragment == "" {
		return "parse error: " + e.Reason
	}
	return fmt.Sprintf("parse error at %q: %s", e.Fragment, e.Reason)
}

func parseErr(fragment, reason string) error {
	return &ParseError{Fragment: fragment, Reason: reason}
}

// IncompleteCommandError reports a required entity missing from a command.
// Field names the missing entity so the user can be asked for it specifically.
type IncompleteCommandError struct {
	Intent string
	Field  string
}

func (e *IncompleteCommandError) Error() string {
	return fmt.Sprintf("incomplete %s command: missing %s", e.Intent, e.Field)
}

// DeliveryError classifies a failed outbound send. Transient failures are
// retried on later ticks; permanent ones are logged and left for inspection.
type DeliveryError struct {
	Transient bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("delivery failed (%s): %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
