package reconcile

import (
	"fmt"
)

// A ConflictError means the observed object is not the version the caller reasoned about. The
// caller has to fetch the object again and recompute; see driver.Driver for the retry loop.
type ConflictError struct {
	Kind      string
	Namespace string
	Name      string

	// Expected and Actual are the resource versions involved, when known.
	Expected string
	Actual   string

	// Err is the store error that reported the conflict, if the conflict was detected at
	// apply time rather than by Reconcile.
	Err error
}

func (e *ConflictError) Error() string {
	obj := e.Name
	if e.Namespace != "" {
		obj = e.Namespace + "/" + e.Name
	}
	switch {
	case e.Expected != "" && e.Actual != "":
		return fmt.Sprintf("conflict on %s %q: resource version %s was expected but the store holds %s",
			e.Kind, obj, e.Expected, e.Actual)
	case e.Err != nil:
		return fmt.Sprintf("conflict on %s %q: %v", e.Kind, obj, e.Err)
	default:
		return fmt.Sprintf("conflict on %s %q", e.Kind, obj)
	}
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// A ValidationError means the desired state cannot be reconciled against the observed state as
// written. Retrying does not help.
type ValidationError struct {
	// Path is the field path the problem was found at, e.g. "spec.taints[0]". It is empty for
	// problems with the request as a whole.
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid desired state: " + e.Reason
	}
	return fmt.Sprintf("invalid desired state at %s: %s", e.Path, e.Reason)
}

func validationErrorf(path, format string, args ...interface{}) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
