package kates

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/disk"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/restmapper"

	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/datawire/dlib/dlog"
)

// The Client struct is a small, kubectl-flavored handle on the api-server: it resolves kinds the
// same way kubectl does (so "node", "nodes" and "Node" all work) and performs the four verbs a
// reconcile needs on untyped (*Unstructured) resources.
//
// A Client holds no per-resource state and is safe for concurrent use. Serializing writes to a
// single resource is the caller's job.
type Client struct {
	config *ConfigFlags
	cli    dynamic.Interface

	mutex  sync.Mutex
	mapper meta.RESTMapper
	disco  discovery.CachedDiscoveryInterface
}

// The ClientOptions struct holds all the parameters and configuration that can be passed upon
// construction of a new Client. The connection fields are handed to client-go untouched.
type ClientOptions struct {
	Kubeconfig string
	Context    string
	Namespace  string

	Host      string
	APIKey    string
	Username  string
	Password  string
	CertFile  string
	KeyFile   string
	SSLCACert string
	// VerifySSL is tri-state; nil leaves the kubeconfig's setting alone.
	VerifySSL *bool
}

// The NewClient function constructs a new client with the supplied ClientOptions.
func NewClient(options ClientOptions) (*Client, error) {
	return NewClientFromConfigFlags(config(options))
}

func NewClientFromConfigFlags(config *ConfigFlags) (*Client, error) {
	restconfig, err := config.ToRESTConfig()
	if err != nil {
		return nil, err
	}

	cli, err := dynamic.NewForConfig(restconfig)
	if err != nil {
		return nil, err
	}

	mapper, disco, err := NewRESTMapper(config)
	if err != nil {
		return nil, err
	}

	return &Client{config: config, cli: cli, mapper: mapper, disco: disco}, nil
}

// NewClientFromInterfaces wraps an already constructed dynamic client and REST mapper, e.g. the
// ones from k8s.io/client-go/dynamic/fake in tests.
func NewClientFromInterfaces(cli dynamic.Interface, mapper meta.RESTMapper) *Client {
	return &Client{cli: cli, mapper: mapper}
}

func NewRESTMapper(config *ConfigFlags) (meta.RESTMapper, discovery.CachedDiscoveryInterface, error) {
	// Throttling is scoped to rest.Config, so we use a dedicated
	// rest.Config for discovery so we can disable throttling for
	// discovery, but leave it in place for normal requests. This
	// is largely the same thing that ConfigFlags.ToRESTMapper()
	// does, hence the same thing that kubectl does. The difference
	// is that if there is no cache dir supplied, we fallback to
	// in-memory caching rather than not caching discovery requests
	// at all.
	restconfig, err := config.ToRESTConfig()
	if err != nil {
		return nil, nil, err
	}
	restconfig.QPS = 1000000
	restconfig.Burst = 1000000

	var cachedDiscoveryClient discovery.CachedDiscoveryInterface
	if config.CacheDir != nil && *config.CacheDir != "" {
		cachedDiscoveryClient, err = disk.NewCachedDiscoveryClientForConfig(restconfig, *config.CacheDir, "",
			time.Duration(10*time.Minute))
		if err != nil {
			return nil, nil, err
		}
	} else {
		discoveryClient, err := discovery.NewDiscoveryClientForConfig(restconfig)
		if err != nil {
			return nil, nil, err
		}
		cachedDiscoveryClient = memory.NewMemCacheClient(discoveryClient)
	}

	mapper := restmapper.NewDeferredDiscoveryRESTMapper(cachedDiscoveryClient)
	expander := restmapper.NewShortcutExpander(mapper, cachedDiscoveryClient, nil)

	return expander, cachedDiscoveryClient, nil
}

// InvalidateCache drops everything discovery has learned, so that kinds installed since (e.g. by
// a CRD) become resolvable.
func (c *Client) InvalidateCache() error {
	if c.config == nil {
		return nil
	}
	mapper, disco, err := NewRESTMapper(c.config)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	c.mapper = mapper
	c.disco = disco
	c.mutex.Unlock()
	return nil
}

// ServerVersion returns the api-server's git version, e.g. "v1.32.1".
func (c *Client) ServerVersion() (string, error) {
	if c.disco == nil {
		return "", errors.New("no discovery client")
	}
	info, err := c.disco.ServerVersion()
	if err != nil {
		return "", err
	}
	return info.GitVersion, nil
}

// CurrentNamespace returns the namespace selected by the client configuration, falling back to
// "default".
func (c *Client) CurrentNamespace() (string, error) {
	if c.config == nil {
		return NamespaceDefault, nil
	}
	ns, _, err := c.config.ToRawKubeConfigLoader().Namespace()
	return ns, err
}

// ==

func (c *Client) restMapper() meta.RESTMapper {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.mapper
}

func (c *Client) cliFor(mapping *meta.RESTMapping, namespace string) dynamic.ResourceInterface {
	cli := c.cli.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		if namespace == NamespaceAll {
			namespace = NamespaceDefault
		}
		return cli.Namespace(namespace)
	}
	return cli
}

func (c *Client) cliForRef(ref ResourceRef) (dynamic.ResourceInterface, error) {
	mapping, err := c.mappingForRef(ref)
	if err != nil {
		return nil, err
	}
	return c.cliFor(mapping, ref.Namespace), nil
}

// mappingForRef prefers the exact group/version a ref names, and falls back to kubectl-style
// resolution of the bare kind.
func (c *Client) mappingForRef(ref ResourceRef) (*meta.RESTMapping, error) {
	if ref.APIVersion != "" {
		gvk := ref.GroupVersionKind()
		mapping, err := c.restMapper().RESTMapping(gvk.GroupKind(), gvk.Version)
		if err == nil {
			return mapping, nil
		}
		if !meta.IsNoMatchError(err) {
			return nil, err
		}
		return nil, &unknownResource{gvk.GroupKind().String()}
	}
	return c.mappingFor(ref.Kind)
}

// mappingFor returns the RESTMapping for the Kind given, or the Kind referenced by the resource.
// Prefers a fully specified GroupVersionResource match. If one is not found, we match on a fully
// specified GroupVersionKind, or fallback to a match on GroupKind.
//
// This is copy/pasted from k8s.io/cli-runtime/pkg/resource.Builder.mappingFor() (which is
// unfortunately private), with modified lines marked with "// MODIFIED".
func (c *Client) mappingFor(resourceOrKind string) (*meta.RESTMapping, error) { // MODIFIED: args
	mapper := c.restMapper() // MODIFIED: Don't call b.restMapperFn(), use c.mapper instead.
	fullySpecifiedGVR, groupResource := schema.ParseResourceArg(resourceOrKind)
	gvk := schema.GroupVersionKind{}

	if fullySpecifiedGVR != nil {
		gvk, _ = mapper.KindFor(*fullySpecifiedGVR)
	}
	if gvk.Empty() {
		gvk, _ = mapper.KindFor(groupResource.WithVersion(""))
	}
	if !gvk.Empty() {
		return mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	}

	fullySpecifiedGVK, groupKind := schema.ParseKindArg(resourceOrKind)
	if fullySpecifiedGVK == nil {
		gvk := groupKind.WithVersion("")
		fullySpecifiedGVK = &gvk
	}

	if !fullySpecifiedGVK.Empty() {
		if mapping, err := mapper.RESTMapping(fullySpecifiedGVK.GroupKind(), fullySpecifiedGVK.Version); err == nil {
			return mapping, nil
		}
	}

	mapping, err := mapper.RESTMapping(groupKind, gvk.Version)
	if err != nil {
		// if we error out here, it is because we could not match a resource or a kind
		// for the given argument. To maintain consistency with previous behavior,
		// announce that a resource type could not be found.
		// if the error is _not_ a *meta.NoKindMatchError, then we had trouble doing discovery,
		// so we should return the original error since it may help a user diagnose what is actually wrong
		if meta.IsNoMatchError(err) {
			return nil, &unknownResource{resourceOrKind}
		}
		return nil, err
	}

	return mapping, nil
}

type unknownResource struct {
	arg string
}

func (e *unknownResource) Error() string {
	return fmt.Sprintf("the server doesn't have a resource type %q", e.arg)
}

// IsUnknownResource reports whether err means the api-server does not serve the requested kind
// at all (e.g. an OpenShift kind on a plain kubernetes cluster).
func IsUnknownResource(err error) bool {
	var unknown *unknownResource
	return errors.As(err, &unknown)
}

// ==

// Get fetches the resource ref names. A missing resource is reported as an error satisfying
// IsNotFound.
func (c *Client) Get(ctx context.Context, ref ResourceRef) (*Unstructured, error) {
	cli, err := c.cliForRef(ref)
	if err != nil {
		return nil, err
	}
	dlog.Debugf(ctx, "kates: GET %s", ref)
	return cli.Get(ctx, ref.Name, GetOptions{})
}

// ==

func (c *Client) Create(ctx context.Context, resource *Unstructured) (*Unstructured, error) {
	ref := RefFor(resource)
	cli, err := c.cliForRef(ref)
	if err != nil {
		return nil, err
	}
	dlog.Debugf(ctx, "kates: CREATE %s", ref)
	return cli.Create(ctx, resource, CreateOptions{})
}

// ==

// Patch applies data to the resource ref names. Patches carrying metadata.resourceVersion are
// rejected by the api-server with a conflict if the stored object has moved on.
func (c *Client) Patch(ctx context.Context, ref ResourceRef, pt PatchType, data []byte) (*Unstructured, error) {
	cli, err := c.cliForRef(ref)
	if err != nil {
		return nil, err
	}
	dlog.Debugf(ctx, "kates: PATCH %s (%s, %d bytes)", ref, pt, len(data))
	return cli.Patch(ctx, ref.Name, pt, data, PatchOptions{})
}

// ==

func (c *Client) Delete(ctx context.Context, ref ResourceRef) error {
	cli, err := c.cliForRef(ref)
	if err != nil {
		return err
	}
	dlog.Debugf(ctx, "kates: DELETE %s", ref)
	return cli.Delete(ctx, ref.Name, DeleteOptions{})
}

// ==

func config(options ClientOptions) *ConfigFlags {
	flags := pflag.NewFlagSet("KubeInfo", pflag.PanicOnError)
	result := NewConfigFlags(false)

	// We can disable or enable flags by setting them to
	// nil/non-nil prior to calling .AddFlags().
	//
	// .Username and .Password are disabled by default in
	// genericclioptions.NewConfigFlags(), so they are set
	// directly below instead.

	result.AddFlags(flags)

	var args []string
	add := func(flag, value string) {
		if value != "" {
			args = append(args, "--"+flag, value)
		}
	}
	add("kubeconfig", options.Kubeconfig)
	add("context", options.Context)
	add("namespace", options.Namespace)
	add("server", options.Host)
	add("token", options.APIKey)
	add("client-certificate", options.CertFile)
	add("client-key", options.KeyFile)
	add("certificate-authority", options.SSLCACert)
	if options.VerifySSL != nil {
		add("insecure-skip-tls-verify", strconv.FormatBool(!*options.VerifySSL))
	}

	err := flags.Parse(args)
	if err != nil {
		// Args is constructed by us, we should never get an
		// error, so it's ok to panic.
		panic(err)
	}

	if options.Username != "" {
		result.Username = &options.Username
	}
	if options.Password != "" {
		result.Password = &options.Password
	}
	return result
}
