// Package reconcile computes what has to happen to a stored Kubernetes object so that it matches a
// caller's declared configuration.
//
// Reconcile is a pure function. It is handed the desired state, the observed state (or nil if the
// object does not exist) and a merge policy, and it hands back a single Action: create the object,
// patch it, delete it, or leave it alone. It never performs I/O and never modifies its inputs; the
// fetch and apply steps belong to the caller (see the driver package).
//
// # Merge policy
//
// Under PolicyMerge (the default) the desired fields are folded into the observed object:
//
//   - scalars in desired overwrite observed scalars;
//   - mappings are unioned, desired keys winning;
//   - lists are merged strategically. If the desired list elements carry a "name" field (or,
//     failing that, a "type" field) then elements with the same key are merged recursively and
//     the rest are appended. Lists without a merge key are merged as a unique set.
//
// Observed content that desired does not mention is never dropped. Under PolicyReplace every list
// present in desired replaces the observed list wholesale; paths desired does not mention are still
// left alone.
//
// An explicit null in desired removes the field, matching JSON merge patch semantics.
package reconcile

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// State is the caller's intent for a resource.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

// Policy selects how desired lists are combined with observed lists.
type Policy string

const (
	PolicyMerge   Policy = "merge"
	PolicyReplace Policy = "replace"
)

// PolicyFor maps the "force" option onto a Policy.
func PolicyFor(force bool) Policy {
	if force {
		return PolicyReplace
	}
	return PolicyMerge
}

// Desired is the declared target configuration of one resource. Fields holds the subset of the
// object's schema the caller cares about, in unstructured form.
type Desired struct {
	State  State
	Fields map[string]interface{}
}

// ActionType tags an Action.
type ActionType string

const (
	ActionNoOp   ActionType = "noop"
	ActionCreate ActionType = "create"
	ActionPatch  ActionType = "patch"
	ActionDelete ActionType = "delete"
)

// An Action is the result of a reconcile.
type Action struct {
	Type ActionType

	// Body is what should be submitted to the store: the full object for ActionCreate and a JSON
	// merge patch for ActionPatch. It is nil for ActionDelete and ActionNoOp.
	Body map[string]interface{}

	// Merged is the object the store is expected to hold once the action has been applied. It is
	// nil for ActionDelete and for an ActionNoOp on an absent object.
	Merged map[string]interface{}
}

// Changed reports whether applying the action modifies the store.
func (a Action) Changed() bool {
	return a.Type != ActionNoOp
}

func (a Action) String() string {
	return string(a.Type)
}

// Reconcile decides what to do with observed so that it matches desired. A nil observed means the
// object does not exist.
func Reconcile(desired Desired, observed map[string]interface{}, policy Policy) (Action, error) {
	if policy == "" {
		policy = PolicyMerge
	}
	if policy != PolicyMerge && policy != PolicyReplace {
		return Action{}, &ValidationError{Reason: fmt.Sprintf("unknown merge policy %q", policy)}
	}

	switch desired.State {
	case StateAbsent:
		if observed == nil {
			return Action{Type: ActionNoOp}, nil
		}
		return Action{Type: ActionDelete}, nil
	case StatePresent, "":
	default:
		return Action{}, &ValidationError{Reason: fmt.Sprintf("unknown state %q", desired.State)}
	}

	fields, err := normalizeObject(desired.Fields)
	if err != nil {
		return Action{}, err
	}

	if observed == nil {
		return Action{Type: ActionCreate, Body: fields, Merged: deepCopy(fields)}, nil
	}

	current, err := normalizeObject(observed)
	if err != nil {
		return Action{}, err
	}

	if err := checkResourceVersion(fields, current); err != nil {
		return Action{}, err
	}

	m := merger{policy: policy}
	merged, err := m.mergeMap("", current, fields)
	if err != nil {
		return Action{}, err
	}

	if equality.Semantic.DeepEqual(current, merged) {
		return Action{Type: ActionNoOp, Merged: deepCopy(merged)}, nil
	}

	var body map[string]interface{}
	switch policy {
	case PolicyReplace:
		body = fields
	default:
		body, err = mergePatch(current, merged)
		if err != nil {
			return Action{}, err
		}
	}
	return Action{Type: ActionPatch, Body: body, Merged: deepCopy(merged)}, nil
}

// checkResourceVersion fails when desired pins a resource version that the observed object has
// moved past.
func checkResourceVersion(desired, observed map[string]interface{}) error {
	want, _, _ := unstructured.NestedString(desired, "metadata", "resourceVersion")
	if want == "" {
		return nil
	}
	have, _, _ := unstructured.NestedString(observed, "metadata", "resourceVersion")
	if have == "" || have == want {
		return nil
	}
	kind, _, _ := unstructured.NestedString(observed, "kind")
	namespace, _, _ := unstructured.NestedString(observed, "metadata", "namespace")
	name, _, _ := unstructured.NestedString(observed, "metadata", "name")
	return &ConflictError{
		Kind:      kind,
		Namespace: namespace,
		Name:      name,
		Expected:  want,
		Actual:    have,
	}
}
