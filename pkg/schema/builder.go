package schema

import (
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/emissary-ingress/kubemodules/pkg/kates"
	"github.com/emissary-ingress/kubemodules/pkg/reconcile"
)

// A Request is one object a module run should reconcile.
type Request struct {
	Module     string
	Ref        kates.ResourceRef
	Desired    reconcile.Desired
	Policy     reconcile.Policy
	CreateOnly bool
	Namespaced bool
	Connection kates.ClientOptions
	CheckMode  bool
	Diff       bool
	Debug      bool
	// Src is the manifest file the object came from, if any.
	Src string
}

// DefaultNamespace puts a request for a namespaced kind that names no namespace into ns,
// normally the namespace of the connection's kubeconfig context.
func (r *Request) DefaultNamespace(ns string) {
	if !r.Namespaced || r.Ref.Namespace != "" || ns == "" {
		return
	}
	r.Ref.Namespace = ns
	if r.Desired.Fields != nil {
		_ = unstructured.SetNestedField(r.Desired.Fields, ns, "metadata", "namespace")
	}
}

// Build is BuildAll for parameters that describe exactly one object.
func (b *Builder) Build(params map[string]interface{}) (Request, error) {
	reqs, err := b.BuildAll(params)
	if err != nil {
		return Request{}, err
	}
	if len(reqs) != 1 {
		return Request{}, b.errorf(OptSrc, "holds %d documents, expected exactly one", len(reqs))
	}
	return reqs[0], nil
}

// BuildAll checks params against the schema and returns the requests they describe: one per
// document when src names a multi-document file, one otherwise.
func (b *Builder) BuildAll(params map[string]interface{}) ([]Request, error) {
	values, err := b.resolve(params)
	if err != nil {
		return nil, err
	}

	base := Request{
		Module:     b.schema.Module,
		CreateOnly: b.schema.CreateOnly,
		Namespaced: b.schema.Namespaced,
		Policy:     reconcile.PolicyFor(boolValue(values, OptForce)),
		Connection: connection(values),
		CheckMode:  boolValue(values, OptCheckMode),
		Diff:       boolValue(values, OptDiff),
		Debug:      boolValue(values, OptDebug),
	}
	state := reconcile.StatePresent
	if s, ok := values[OptState].(string); ok {
		state = reconcile.State(s)
	}

	var docs []map[string]interface{}
	def, hasDef := values[OptResourceDefinition].(map[string]interface{})
	src, hasSrc := values[OptSrc].(string)
	switch {
	case hasDef && hasSrc:
		return nil, b.errorf(OptResourceDefinition, "mutually exclusive with %s", OptSrc)
	case hasDef || hasSrc:
		for _, name := range sortedKeys(values) {
			if b.kind[name] || name == OptName || name == OptLabels || name == OptAnnotations {
				return nil, b.errorf(name, "cannot be combined with %s or %s", OptResourceDefinition, OptSrc)
			}
		}
		if hasDef {
			docs = append(docs, def)
			break
		}
		objs, err := kates.ParseManifestFile(src)
		if err != nil {
			return nil, b.errorf(OptSrc, "%v", err)
		}
		if len(objs) == 0 {
			return nil, b.errorf(OptSrc, "%s holds no documents", src)
		}
		for _, obj := range objs {
			docs = append(docs, obj.Object)
		}
		base.Src = src
	default:
		docs = append(docs, b.object(values))
	}

	reqs := make([]Request, 0, len(docs))
	for _, doc := range docs {
		fields, err := reconcile.Normalize(doc)
		if err != nil {
			return nil, &OptionError{Module: b.schema.Module, Reason: err.Error()}
		}
		if err := b.complete(fields, values); err != nil {
			return nil, err
		}
		if err := b.validate(fields); err != nil {
			return nil, err
		}
		un := &kates.Unstructured{Object: fields}
		req := base
		req.Ref = kates.RefFor(un)
		req.Desired = reconcile.Desired{State: state, Fields: fields}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// resolve maps names and aliases to canonical option names and coerces every value.
func (b *Builder) resolve(params map[string]interface{}) (map[string]interface{}, error) {
	params, err := reconcile.Normalize(params)
	if err != nil {
		return nil, &OptionError{Module: b.schema.Module, Reason: err.Error()}
	}
	values := make(map[string]interface{}, len(params))
	given := make(map[string]string, len(params))
	for _, key := range sortedKeys(params) {
		raw := params[key]
		name := key
		if strings.HasPrefix(key, ansiblePrefix) {
			name = strings.TrimPrefix(key, ansiblePrefix)
			if name != OptCheckMode && name != OptDiff && name != OptDebug {
				continue
			}
		}
		canonical, ok := b.names[name]
		if !ok {
			return nil, b.errorf(key, "unsupported parameter")
		}
		// Ansible passes every unset option as null.
		if raw == nil {
			continue
		}
		if other, dup := given[canonical]; dup {
			return nil, b.errorf(key, "given together with %s", other)
		}
		given[canonical] = key

		opt := b.options[canonical]
		v, err := coerce(opt.Type, raw)
		if err != nil {
			return nil, b.errorf(key, "%v", err)
		}
		if len(opt.Choices) > 0 && !contains(opt.Choices, v.(string)) {
			return nil, b.errorf(key, "value must be one of: %s, got: %v", strings.Join(opt.Choices, ", "), v)
		}
		values[canonical] = v
	}
	return values, nil
}

// object builds the desired object from the options that have a path.
func (b *Builder) object(values map[string]interface{}) map[string]interface{} {
	obj := make(map[string]interface{})
	for _, name := range sortedKeys(values) {
		opt := b.options[name]
		if len(opt.Path) == 0 {
			continue
		}
		setNested(obj, values[name], opt.Path)
	}
	return obj
}

// complete fills in apiVersion, kind and namespace, and checks that the object is one this
// module manages.
func (b *Builder) complete(obj map[string]interface{}, values map[string]interface{}) error {
	s := b.schema
	for _, f := range []struct{ field, want string }{{"apiVersion", s.APIVersion}, {"kind", s.Kind}} {
		switch got, _ := obj[f.field].(string); got {
		case "":
			obj[f.field] = f.want
		case f.want:
		default:
			return b.errorf(OptResourceDefinition, "%s is %q, this module manages %q", f.field, got, f.want)
		}
	}

	meta, _ := obj["metadata"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{})
		obj["metadata"] = meta
	}
	if s.Namespaced {
		if ns, _ := meta["namespace"].(string); ns == "" {
			if ns, ok := values[OptNamespace].(string); ok && ns != "" {
				meta["namespace"] = ns
			}
		}
	} else {
		delete(meta, "namespace")
	}
	if name, _ := meta["name"].(string); name == "" && !s.CreateOnly {
		return b.errorf(OptName, "required")
	}
	return nil
}

// validate strictly decodes obj into the kind's Go type, if it has one.
func (b *Builder) validate(obj map[string]interface{}) error {
	if b.schema.Typed == nil {
		return nil
	}
	target := b.schema.Typed()
	if err := runtime.DefaultUnstructuredConverter.FromUnstructuredWithValidation(obj, target, true); err != nil {
		return &OptionError{Module: b.schema.Module, Reason: err.Error()}
	}
	return nil
}

func connection(values map[string]interface{}) kates.ClientOptions {
	str := func(name string) string {
		s, _ := values[name].(string)
		return s
	}
	opts := kates.ClientOptions{
		Kubeconfig: str(OptKubeconfig),
		Context:    str(OptContext),
		Namespace:  str(OptNamespace),
		Host:       str(OptHost),
		APIKey:     str(OptAPIKey),
		Username:   str(OptUsername),
		Password:   str(OptPassword),
		CertFile:   str(OptCertFile),
		KeyFile:    str(OptKeyFile),
		SSLCACert:  str(OptSSLCACert),
	}
	if v, ok := values[OptVerifySSL].(bool); ok {
		opts.VerifySSL = &v
	}
	return opts
}

func setNested(obj map[string]interface{}, value interface{}, path []string) {
	m := obj
	for _, field := range path[:len(path)-1] {
		next, ok := m[field].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[field] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

func boolValue(values map[string]interface{}, name string) bool {
	v, _ := values[name].(bool)
	return v
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
