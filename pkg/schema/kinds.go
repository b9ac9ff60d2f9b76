package schema

import (
	"sort"

	authorizationv1beta1 "k8s.io/api/authorization/v1beta1"
	corev1 "k8s.io/api/core/v1"
)

var NodeSchema = Schema{
	Module:     "k8s_v1_node",
	APIVersion: "v1",
	Kind:       "Node",
	Typed:      func() interface{} { return &corev1.Node{} },
	Options: []Option{
		{Name: "spec_external_id", Path: []string{"spec", "externalID"}, Aliases: []string{"external_id"}},
		{Name: "spec_pod_cidr", Path: []string{"spec", "podCIDR"}, Aliases: []string{"pod_cidr"}},
		{Name: "spec_provider_id", Path: []string{"spec", "providerID"}, Aliases: []string{"provider_id"}},
		{Name: "spec_unschedulable", Path: []string{"spec", "unschedulable"}, Aliases: []string{"unschedulable"}, Type: TypeBool},
	},
}

var SelfSubjectAccessReviewSchema = Schema{
	Module:     "k8s_v1beta1_self_subject_access_review",
	APIVersion: "authorization.k8s.io/v1beta1",
	Kind:       "SelfSubjectAccessReview",
	CreateOnly: true,
	Typed:      func() interface{} { return &authorizationv1beta1.SelfSubjectAccessReview{} },
	Options: append(
		fieldOptions("spec_non_resource_attributes_", "non_resource_attributes_", []string{"spec", "nonResourceAttributes"},
			"path", "verb"),
		fieldOptions("spec_resource_attributes_", "resource_attributes_", []string{"spec", "resourceAttributes"},
			"group", "name", "namespace", "resource", "subresource", "verb", "version")...,
	),
}

var ImageStreamImportSchema = Schema{
	Module:     "openshift_v1_image_stream_import",
	APIVersion: "image.openshift.io/v1",
	Kind:       "ImageStreamImport",
	Namespaced: true,
	CreateOnly: true,
	Options: append([]Option{
		{Name: "spec__import", Path: []string{"spec", "import"}, Aliases: []string{"_import"}, Type: TypeBool},
		{Name: "spec_images", Path: []string{"spec", "images"}, Aliases: []string{"images"}, Type: TypeList},
		{Name: "spec_repository_import_policy_insecure", Path: []string{"spec", "repository", "importPolicy", "insecure"},
			Aliases: []string{"repository_import_policy_insecure"}, Type: TypeBool},
		{Name: "spec_repository_import_policy_scheduled", Path: []string{"spec", "repository", "importPolicy", "scheduled"},
			Aliases: []string{"repository_import_policy_scheduled"}, Type: TypeBool},
		{Name: "spec_repository_include_manifest", Path: []string{"spec", "repository", "includeManifest"},
			Aliases: []string{"repository_include_manifest"}, Type: TypeBool},
		{Name: "spec_repository_reference_policy_type", Path: []string{"spec", "repository", "referencePolicy", "type"},
			Aliases: []string{"repository_reference_policy_type"}},
	}, objectReferenceOptions("spec_repository__from_", "repository__from_", []string{"spec", "repository", "from"})...),
}

// The ImageStreamTag module has several fields whose short aliases collide (image_kind and
// tag__from_kind are both "kind", for example). Ambiguous aliases are left out.
var ImageStreamTagSchema = Schema{
	Module:     "openshift_v1_image_stream_tag",
	APIVersion: "image.openshift.io/v1",
	Kind:       "ImageStreamTag",
	Namespaced: true,
	Options: []Option{
		{Name: "conditions", Path: []string{"conditions"}, Type: TypeList},
		{Name: "generation", Path: []string{"generation"}, Type: TypeInt},

		{Name: "image_api_version", Path: []string{"image", "apiVersion"}},
		{Name: "image_kind", Path: []string{"image", "kind"}},
		{Name: "image_docker_image_config", Path: []string{"image", "dockerImageConfig"},
			Aliases: []string{"docker_image_config"}},
		{Name: "image_docker_image_layers", Path: []string{"image", "dockerImageLayers"},
			Aliases: []string{"docker_image_layers"}, Type: TypeList},
		{Name: "image_docker_image_manifest", Path: []string{"image", "dockerImageManifest"},
			Aliases: []string{"docker_image_manifest"}},
		{Name: "image_docker_image_manifest_media_type", Path: []string{"image", "dockerImageManifestMediaType"},
			Aliases: []string{"docker_image_manifest_media_type"}},
		{Name: "image_docker_image_metadata_raw", Path: []string{"image", "dockerImageMetadata", "raw"},
			Aliases: []string{"image_docker_metadata_raw"}},
		{Name: "image_docker_image_metadata_version", Path: []string{"image", "dockerImageMetadataVersion"},
			Aliases: []string{"docker_image_metadata_version"}},
		{Name: "image_docker_image_reference", Path: []string{"image", "dockerImageReference"},
			Aliases: []string{"docker_image_reference"}},
		{Name: "image_docker_image_signatures", Path: []string{"image", "dockerImageSignatures"},
			Aliases: []string{"docker_image_signatures"}, Type: TypeList},
		{Name: "image_metadata_annotations", Path: []string{"image", "metadata", "annotations"}, Type: TypeDict},
		{Name: "image_metadata_labels", Path: []string{"image", "metadata", "labels"}, Type: TypeDict},
		{Name: "image_metadata_name", Path: []string{"image", "metadata", "name"}},
		{Name: "image_metadata_namespace", Path: []string{"image", "metadata", "namespace"}},
		{Name: "image_signatures", Path: []string{"image", "signatures"}, Aliases: []string{"signatures"}, Type: TypeList},

		{Name: "tag__from_api_version", Path: []string{"tag", "from", "apiVersion"}},
		{Name: "tag__from_kind", Path: []string{"tag", "from", "kind"}},
		{Name: "tag__from_name", Path: []string{"tag", "from", "name"}},
		{Name: "tag__from_namespace", Path: []string{"tag", "from", "namespace"}},
		{Name: "tag__from_field_path", Path: []string{"tag", "from", "fieldPath"}, Aliases: []string{"field_path"}},
		{Name: "tag__from_resource_version", Path: []string{"tag", "from", "resourceVersion"},
			Aliases: []string{"resource_version"}},
		{Name: "tag__from_uid", Path: []string{"tag", "from", "uid"}, Aliases: []string{"uid"}},
		{Name: "tag_annotations", Path: []string{"tag", "annotations"}, Type: TypeDict},
		{Name: "tag_generation", Path: []string{"tag", "generation"}, Type: TypeInt},
		{Name: "tag_import_policy_insecure", Path: []string{"tag", "importPolicy", "insecure"},
			Aliases: []string{"insecure"}, Type: TypeBool},
		{Name: "tag_import_policy_scheduled", Path: []string{"tag", "importPolicy", "scheduled"},
			Aliases: []string{"scheduled"}, Type: TypeBool},
		{Name: "tag_name", Path: []string{"tag", "name"}},
		{Name: "tag_reference", Path: []string{"tag", "reference"}, Aliases: []string{"reference"}, Type: TypeBool},
		{Name: "tag_reference_policy_type", Path: []string{"tag", "referencePolicy", "type"}, Aliases: []string{"type"}},
	},
}

// fieldOptions returns one string option per field of the object at path.
func fieldOptions(prefix, aliasPrefix string, path []string, fields ...string) []Option {
	opts := make([]Option, 0, len(fields))
	for _, f := range fields {
		opts = append(opts, Option{
			Name:    prefix + f,
			Path:    append(append([]string(nil), path...), f),
			Aliases: []string{aliasPrefix + f},
		})
	}
	return opts
}

// objectReferenceOptions returns the options for a core ObjectReference at path.
func objectReferenceOptions(prefix, aliasPrefix string, path []string) []Option {
	fields := []struct{ option, field string }{
		{"api_version", "apiVersion"},
		{"field_path", "fieldPath"},
		{"kind", "kind"},
		{"name", "name"},
		{"namespace", "namespace"},
		{"resource_version", "resourceVersion"},
		{"uid", "uid"},
	}
	opts := make([]Option, 0, len(fields))
	for _, f := range fields {
		opts = append(opts, Option{
			Name:    prefix + f.option,
			Path:    append(append([]string(nil), path...), f.field),
			Aliases: []string{aliasPrefix + f.option},
		})
	}
	return opts
}

var registry = map[string]*Builder{}

func register(s Schema) {
	b, err := NewBuilder(s)
	if err != nil {
		panic(err)
	}
	registry[s.Module] = b
}

func init() {
	register(NodeSchema)
	register(SelfSubjectAccessReviewSchema)
	register(ImageStreamImportSchema)
	register(ImageStreamTagSchema)
}

// Lookup returns the builder for the named module.
func Lookup(module string) (*Builder, bool) {
	b, ok := registry[module]
	return b, ok
}

// Modules lists the registered modules.
func Modules() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
