package kates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/datawire/dlib/dlog"
)

var (
	nodeGVK      = schema.GroupVersionKind{Version: "v1", Kind: "Node"}
	configMapGVK = schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}
)

func newFakeClient(t *testing.T, objs ...runtime.Object) *Client {
	t.Helper()
	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{{Version: "v1"}})
	mapper.Add(nodeGVK, meta.RESTScopeRoot)
	mapper.Add(configMapGVK, meta.RESTScopeNamespace)

	cli := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			{Version: "v1", Resource: "nodes"}:      "NodeList",
			{Version: "v1", Resource: "configmaps"}: "ConfigMapList",
		}, objs...)
	return NewClientFromInterfaces(cli, mapper)
}

func newNode(name string) *Unstructured {
	un := newUnstructured("Node", "v1")
	un.SetName(name)
	return un
}

func TestCRUD(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	cli := newFakeClient(t)

	ref := ResourceRef{APIVersion: "v1", Kind: "Node", Name: "worker-1"}

	_, err := cli.Get(ctx, ref)
	require.Error(t, err, "expecting not found error")
	assert.True(t, IsNotFound(err), "expecting not found error: %v", err)

	node := newNode("worker-1")
	node.Object["spec"] = map[string]interface{}{"podCIDR": "10.0.0.0/24"}
	created, err := cli.Create(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", created.GetName())

	_, err = cli.Create(ctx, node)
	assert.True(t, IsAlreadyExists(err), "expecting already exists: %v", err)

	patched, err := cli.Patch(ctx, ref, MergePatchType, []byte(`{"spec":{"unschedulable":true}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"podCIDR": "10.0.0.0/24", "unschedulable": true}, patched.Object["spec"])

	gotten, err := cli.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, patched.Object["spec"], gotten.Object["spec"])

	require.NoError(t, cli.Delete(ctx, ref))

	_, err = cli.Get(ctx, ref)
	assert.True(t, IsNotFound(err), "expecting not found error: %v", err)

	err = cli.Delete(ctx, ref)
	assert.True(t, IsNotFound(err), "expecting not found error: %v", err)
}

func TestNamespacedDefaults(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	cm := newUnstructured("ConfigMap", "v1")
	cm.SetName("settings")
	cm.SetNamespace("default")
	cli := newFakeClient(t, cm)

	// An empty namespace on a namespaced kind means "default".
	got, err := cli.Get(ctx, ResourceRef{APIVersion: "v1", Kind: "ConfigMap", Name: "settings"})
	require.NoError(t, err)
	assert.Equal(t, "default", got.GetNamespace())

	_, err = cli.Get(ctx, ResourceRef{APIVersion: "v1", Kind: "ConfigMap", Namespace: "other", Name: "settings"})
	assert.True(t, IsNotFound(err))
}

func TestKindResolution(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	cli := newFakeClient(t, newNode("worker-1"))

	for _, kind := range []string{"Node", "node", "nodes"} {
		got, err := cli.Get(ctx, ResourceRef{Kind: kind, Name: "worker-1"})
		require.NoError(t, err, kind)
		assert.Equal(t, "worker-1", got.GetName())
	}

	_, err := cli.Get(ctx, ResourceRef{APIVersion: "image.openshift.io/v1", Kind: "ImageStreamTag", Name: "x:1"})
	assert.True(t, IsUnknownResource(err), "%v", err)

	_, err = cli.Get(ctx, ResourceRef{Kind: "widget", Name: "w"})
	assert.True(t, IsUnknownResource(err), "%v", err)
}

func TestConfigOptions(t *testing.T) {
	verify := false
	flags := config(ClientOptions{
		Kubeconfig: "/tmp/kubeconfig",
		Context:    "staging",
		Namespace:  "builds",
		Host:       "https://k8s.example.com:6443",
		APIKey:     "token",
		Username:   "admin",
		Password:   "hunter2",
		CertFile:   "/tmp/cert.pem",
		KeyFile:    "/tmp/key.pem",
		SSLCACert:  "/tmp/ca.pem",
		VerifySSL:  &verify,
	})
	assert.Equal(t, "/tmp/kubeconfig", *flags.KubeConfig)
	assert.Equal(t, "staging", *flags.Context)
	assert.Equal(t, "builds", *flags.Namespace)
	assert.Equal(t, "https://k8s.example.com:6443", *flags.APIServer)
	assert.Equal(t, "token", *flags.BearerToken)
	assert.Equal(t, "admin", *flags.Username)
	assert.Equal(t, "hunter2", *flags.Password)
	assert.Equal(t, "/tmp/cert.pem", *flags.CertFile)
	assert.Equal(t, "/tmp/key.pem", *flags.KeyFile)
	assert.Equal(t, "/tmp/ca.pem", *flags.CAFile)
	assert.True(t, *flags.Insecure)

	flags = config(ClientOptions{})
	assert.Equal(t, "", *flags.KubeConfig)
	assert.False(t, *flags.Insecure)
	assert.Nil(t, flags.Username)
}

func TestClientFromInterfacesNeedsNoConfig(t *testing.T) {
	cli := newFakeClient(t)
	ns, err := cli.CurrentNamespace()
	require.NoError(t, err)
	assert.Equal(t, "default", ns)
	assert.NoError(t, cli.InvalidateCache())

	_, err = cli.ServerVersion()
	assert.Error(t, err)
}

func newUnstructured(kind, version string) *Unstructured {
	un := &Unstructured{}
	un.SetGroupVersionKind(schema.FromAPIVersionAndKind(version, kind))
	return un
}
