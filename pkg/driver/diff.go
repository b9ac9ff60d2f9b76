package driver

import (
	"github.com/pmezard/go-difflib/difflib"

	"github.com/emissary-ingress/kubemodules/pkg/kates"
	"github.com/emissary-ingress/kubemodules/pkg/reconcile"
)

// unifiedDiff renders the change from before to after as a unified diff of their YAML. Fields
// the server maintains for itself are left out.
func unifiedDiff(ref kates.ResourceRef, before, after map[string]interface{}) (string, error) {
	a, err := diffText(before)
	if err != nil {
		return "", err
	}
	b, err := diffText(after)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(a),
		B:        splitLines(b),
		FromFile: ref.String() + " (before)",
		ToFile:   ref.String() + " (after)",
		Context:  3,
	})
}

func diffText(obj map[string]interface{}) (string, error) {
	if obj == nil {
		return "", nil
	}
	obj, err := reconcile.Normalize(obj)
	if err != nil {
		return "", err
	}
	if meta, ok := obj["metadata"].(map[string]interface{}); ok {
		delete(meta, "managedFields")
	}
	return kates.MarshalYAML(obj)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}
