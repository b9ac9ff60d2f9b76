package kates

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// A ResourceRef names one kubernetes resource.
type ResourceRef struct {
	APIVersion string
	Kind       string
	Namespace  string
	Name       string
}

// RefFor returns the ResourceRef naming un.
func RefFor(un *Unstructured) ResourceRef {
	return ResourceRef{
		APIVersion: un.GetAPIVersion(),
		Kind:       un.GetKind(),
		Namespace:  un.GetNamespace(),
		Name:       un.GetName(),
	}
}

func (r ResourceRef) GroupVersionKind() schema.GroupVersionKind {
	return schema.FromAPIVersionAndKind(r.APIVersion, r.Kind)
}

// Key identifies the resource independently of the API version it is addressed through, so two
// refs for the same object always share a key.
func (r ResourceRef) Key() string {
	gk := r.GroupVersionKind().GroupKind().String()
	if r.Namespace == "" {
		return gk + "/" + r.Name
	}
	return gk + "/" + r.Namespace + "/" + r.Name
}

func (r ResourceRef) String() string {
	if r.Namespace == "" {
		return r.Kind + " " + r.Name
	}
	return r.Kind + " " + r.Namespace + "/" + r.Name
}
