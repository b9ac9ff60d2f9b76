// The kates package is a small library for reading and writing kubernetes resources in their
// untyped (map[string]interface{}) form. It is what the reconcile driver talks to the
// api-server through.
//
// # Constructing a Client
//
// A Client is constructed from ClientOptions, which carry the same connection settings kubectl
// understands:
//
//	client, err := kates.NewClient(kates.ClientOptions{Kubeconfig: "/path/to/kubeconfig"})
//
// Tests wrap a fake dynamic client and REST mapper with NewClientFromInterfaces instead.
//
// # Addressing resources
//
// Resources are named with a ResourceRef. Kinds are resolved the way kubectl resolves them, so a
// ref whose APIVersion is empty may still find its resource by kind or short name. Use
// IsUnknownResource to tell a kind the server does not serve apart from a missing object.
//
// # Manifests
//
// ParseManifests and ParseManifestFile split multi-document YAML (or JSON) into Unstructured
// resources, and MarshalYAML renders one back for people to read.
package kates
