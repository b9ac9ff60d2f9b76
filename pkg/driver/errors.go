package driver

import (
	"fmt"

	"github.com/emissary-ingress/kubemodules/pkg/kates"
	"github.com/emissary-ingress/kubemodules/pkg/reconcile"
)

// A TransportError is a failure talking to the store.
type TransportError struct {
	Verb string
	Ref  kates.ResourceRef
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Verb, e.Ref, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// An UnknownKindError means the cluster does not serve the request's kind at all, e.g. an
// OpenShift kind on a plain kubernetes cluster.
type UnknownKindError struct {
	Ref kates.ResourceRef
	Err error
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("%s: kind %s %s is not served by this cluster: %v", e.Ref, e.Ref.APIVersion, e.Ref.Kind, e.Err)
}

func (e *UnknownKindError) Unwrap() error {
	return e.Err
}

func conflict(ref kates.ResourceRef, expected string, err error) error {
	return &reconcile.ConflictError{
		Kind:      ref.Kind,
		Namespace: ref.Namespace,
		Name:      ref.Name,
		Expected:  expected,
		Err:       err,
	}
}
