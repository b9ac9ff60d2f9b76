package kubemodule

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	k8sschema "k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/datawire/dlib/dlog"

	"github.com/emissary-ingress/kubemodules/pkg/driver"
	"github.com/emissary-ingress/kubemodules/pkg/kates"
)

// fakeClient is a kates.Client on a fake cluster whose kubeconfig context selects namespace.
type fakeClient struct {
	*kates.Client
	namespace string
	server    string
}

func (c *fakeClient) CurrentNamespace() (string, error) {
	return c.namespace, nil
}

func (c *fakeClient) ServerVersion() (string, error) {
	if c.server == "" {
		return "", errors.New("connection refused")
	}
	return c.server, nil
}

type cluster struct {
	*fakeClient
	// seen records the connection options newStore was asked for.
	seen []kates.ClientOptions
}

// fakeCluster points newStore at an empty fake cluster for the duration of the test.
func fakeCluster(t *testing.T) *cluster {
	mapper := meta.NewDefaultRESTMapper([]k8sschema.GroupVersion{{Version: "v1"}})
	mapper.Add(k8sschema.GroupVersionKind{Version: "v1", Kind: "Node"}, meta.RESTScopeRoot)
	mapper.Add(k8sschema.GroupVersionKind{Group: "image.openshift.io", Version: "v1", Kind: "ImageStreamTag"},
		meta.RESTScopeNamespace)
	listKinds := map[k8sschema.GroupVersionResource]string{
		{Version: "v1", Resource: "nodes"}: "NodeList",
	}
	listKinds[k8sschema.GroupVersionResource{Group: "image.openshift.io", Version: "v1", Resource: "imagestreamtags"}] =
		"ImageStreamTagList"
	cli := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds)
	c := &cluster{fakeClient: &fakeClient{
		Client:    kates.NewClientFromInterfaces(cli, mapper),
		namespace: kates.NamespaceDefault,
	}}

	orig := newStore
	newStore = func(opts kates.ClientOptions) (driver.Store, error) {
		c.seen = append(c.seen, opts)
		return c.fakeClient, nil
	}
	t.Cleanup(func() { newStore = orig })
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (map[string]interface{}, error) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	var out bytes.Buffer
	cmd := NewCommand("test")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	err := cmd.ExecuteContext(ctx)

	var result map[string]interface{}
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &result), out.String())
	}
	return result, err
}

// executeText runs a subcommand that prints text rather than a module result.
func executeText(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	var out bytes.Buffer
	cmd := NewCommand("test")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestList(t *testing.T) {
	out, err := executeText(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "k8s_v1_node\n"+
		"k8s_v1beta1_self_subject_access_review\n"+
		"openshift_v1_image_stream_import\n"+
		"openshift_v1_image_stream_tag\n", out)
}

func TestOptions(t *testing.T) {
	out, err := executeText(t, "options", "k8s_v1_node")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "spec_pod_cidr")
	assert.Contains(t, lines, "state")
	assert.NotContains(t, lines, "pod_cidr", "aliases are not listed")

	out, err = executeText(t, "options", "k8s_v1beta1_self_subject_access_review")
	require.NoError(t, err)
	assert.NotContains(t, strings.Split(out, "\n"), "state")

	_, err = executeText(t, "options", "k8s_v1_pod")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	c := fakeCluster(t)
	out, err := executeText(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "Version test\n", out, "an unreachable cluster is not an error")

	c.server = "v1.32.1"
	out, err = executeText(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "Version test\nServer version v1.32.1\n", out)
}

func TestNamespaceFromContext(t *testing.T) {
	c := fakeCluster(t)
	c.namespace = "team-a"

	result, err := execute(t, "openshift_v1_image_stream_tag", "--set", "name=ruby:2.4")
	require.NoError(t, err)
	assert.Equal(t, "create", result["action"])
	tag := result["image_stream_tag"].(map[string]interface{})
	assert.Equal(t, "team-a", tag["metadata"].(map[string]interface{})["namespace"])

	result, err = execute(t, "openshift_v1_image_stream_tag", "--set", "name=ruby:2.4", "--set", "namespace=builds")
	require.NoError(t, err)
	assert.Equal(t, "create", result["action"], "builds/ruby:2.4 is a different object")
	tag = result["image_stream_tag"].(map[string]interface{})
	assert.Equal(t, "builds", tag["metadata"].(map[string]interface{})["namespace"])

	result, err = execute(t, "openshift_v1_image_stream_tag", "--set", "name=ruby:2.4")
	require.NoError(t, err)
	assert.Equal(t, false, result["changed"])
}

func TestNodeModule(t *testing.T) {
	fakeCluster(t)
	args := writeFile(t, "args.json", `{"name": "worker-1", "pod_cidr": "10.0.0.0/24", "_ansible_diff": true}`)

	result, err := execute(t, "k8s_v1_node", args)
	require.NoError(t, err)
	assert.Equal(t, true, result["changed"])
	assert.Equal(t, "create", result["action"])
	assert.Equal(t, "v1", result["api_version"])
	node, ok := result["node"].(map[string]interface{})
	require.True(t, ok, "%v", result)
	assert.Equal(t, map[string]interface{}{"podCIDR": "10.0.0.0/24"}, node["spec"])
	assert.Contains(t, result["diff"].(map[string]interface{})["prepared"], "+  podCIDR: 10.0.0.0/24")

	result, err = execute(t, "k8s_v1_node", args, "--set", "unschedulable=yes")
	require.NoError(t, err)
	assert.Equal(t, "patch", result["action"])

	result, err = execute(t, "k8s_v1_node", args, "--set", "unschedulable=true")
	require.NoError(t, err)
	assert.Equal(t, false, result["changed"])
	assert.NotContains(t, result, "diff")
}

func TestKeyValueArgs(t *testing.T) {
	fakeCluster(t)
	args := writeFile(t, "args", `name=worker-1 unschedulable="yes"`)
	result, err := execute(t, "k8s_v1_node", args)
	require.NoError(t, err)
	node := result["node"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"unschedulable": true}, node["spec"])
}

func TestConnectionFromEnvironment(t *testing.T) {
	c := fakeCluster(t)
	t.Setenv("K8S_AUTH_KUBECONFIG", "/etc/kube/config")
	t.Setenv("K8S_AUTH_CONTEXT", "from-env")

	_, err := execute(t, "k8s_v1_node", "--set", "name=worker-1", "--set", "context=from-args")
	require.NoError(t, err)
	require.Len(t, c.seen, 1)
	assert.Equal(t, "/etc/kube/config", c.seen[0].Kubeconfig)
	assert.Equal(t, "from-args", c.seen[0].Context, "parameters win over the environment")
}

func TestSrcWithSeveralDocuments(t *testing.T) {
	fakeCluster(t)
	src := writeFile(t, "nodes.yaml", `
apiVersion: v1
kind: Node
metadata:
  name: worker-1
---
apiVersion: v1
kind: Node
metadata:
  name: worker-2
`)
	result, err := execute(t, "k8s_v1_node", "--set", "src="+src)
	require.NoError(t, err)
	assert.Equal(t, true, result["changed"])
	results, ok := result["results"].([]interface{})
	require.True(t, ok, "%v", result)
	assert.Len(t, results, 2)
}

func TestFailure(t *testing.T) {
	fakeCluster(t)
	result, err := execute(t, "k8s_v1_node", "--set", "name=worker-1", "--set", "spec_taints=x")
	require.Error(t, err)
	var failed *failedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.ExitCode())

	assert.Equal(t, true, result["failed"])
	assert.Equal(t, "Module failed!", result["msg"])
	assert.Contains(t, result["error"], "spec_taints")

	_, err = execute(t, "k8s_v1_pod", "--set", "name=p")
	assert.Error(t, err)

	result, err = execute(t, "k8s_v1_node", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	assert.Equal(t, true, result["failed"])
}

func TestWatchNeedsSrc(t *testing.T) {
	fakeCluster(t)
	result, err := execute(t, "k8s_v1_node", "--set", "name=worker-1", "--watch")
	assert.Error(t, err)
	assert.Contains(t, result["error"], "src")
}

func TestParseArgs(t *testing.T) {
	params, err := parseArgs([]byte(`name=worker-1 provider_id='aws:///us-east-1a/i-0 1' _ansible_check_mode=True`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"name":                "worker-1",
		"provider_id":         "aws:///us-east-1a/i-0 1",
		"_ansible_check_mode": "True",
	}, params)

	params, err = parseArgs([]byte(`{"name": "worker-1", "labels": {"a": "b"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "b"}, params["labels"])

	params, err = parseArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, params)

	_, err = parseArgs([]byte(`name=worker-1 oops`))
	assert.Error(t, err)
}

// syncBuffer is written by the watch loop while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) results(t *testing.T) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	var results []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var result map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &result), line)
		results = append(results, result)
	}
	return results
}

func TestWatchReconcilesOnChange(t *testing.T) {
	fakeCluster(t)
	src := writeFile(t, "node.yaml", `
apiVersion: v1
kind: Node
metadata:
  name: worker-1
`)

	ctx, cancel := context.WithCancel(dlog.NewTestContext(t, false))
	defer cancel()
	out := &syncBuffer{}
	cmd := NewCommand("test")
	cmd.SetArgs([]string{"k8s_v1_node", "--set", "src=" + src, "--watch"})
	cmd.SetOut(out)
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return len(out.results(t)) == 1 }, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, "create", out.results(t)[0]["action"])

	require.NoError(t, os.WriteFile(src, []byte(`
apiVersion: v1
kind: Node
metadata:
  name: worker-1
spec:
  unschedulable: true
`), 0644))
	require.Eventually(t, func() bool { return len(out.results(t)) >= 2 }, 10*time.Second, 10*time.Millisecond)
	second := out.results(t)[1]
	assert.Equal(t, "patch", second["action"])
	assert.Equal(t, map[string]interface{}{"unschedulable": true},
		second["node"].(map[string]interface{})["spec"])

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop when its context was canceled")
	}
}
