package driver_test

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	k8sschema "k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/emissary-ingress/kubemodules/pkg/kates"
)

// memStore is an in-memory Store that versions objects the way the API server does and rejects
// merge patches whose resourceVersion is stale.
type memStore struct {
	mu      sync.Mutex
	objs    map[string]map[string]interface{}
	version int
	calls   []string

	// beforePatch, if set, runs inside Patch before the precondition check. It can change the
	// stored object to simulate a concurrent writer.
	beforePatch func(s *memStore, ref kates.ResourceRef)
	// getErr, if set, is returned by every Get.
	getErr error
	// reply, if set, builds the object Create returns from the submitted one.
	reply func(obj map[string]interface{}) map[string]interface{}
	// discard makes Create reply without storing, like the server does for reviews.
	discard bool
}

func newMemStore(objs ...map[string]interface{}) *memStore {
	s := &memStore{objs: make(map[string]map[string]interface{})}
	for _, obj := range objs {
		s.put(runtime.DeepCopyJSON(obj))
	}
	return s
}

func groupResource(ref kates.ResourceRef) k8sschema.GroupResource {
	return k8sschema.GroupResource{Group: ref.GroupVersionKind().Group, Resource: ref.Kind}
}

// put stores obj with a fresh resource version. The caller holds mu or has not shared s yet.
func (s *memStore) put(obj map[string]interface{}) map[string]interface{} {
	s.version++
	un := &kates.Unstructured{Object: obj}
	un.SetResourceVersion(strconv.Itoa(s.version))
	s.objs[kates.RefFor(un).Key()] = obj
	return runtime.DeepCopyJSON(obj)
}

// touch bumps the version of the object at ref and sets a label on it, as another writer would.
func (s *memStore) touch(ref kates.ResourceRef, label string) {
	obj := s.objs[ref.Key()]
	un := &kates.Unstructured{Object: obj}
	labels := un.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[label] = "true"
	un.SetLabels(labels)
	s.put(obj)
}

func (s *memStore) object(ref kates.ResourceRef) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objs[ref.Key()]
	if !ok {
		return nil
	}
	return runtime.DeepCopyJSON(obj)
}

func (s *memStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *memStore) Get(_ context.Context, ref kates.ResourceRef) (*kates.Unstructured, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "get")
	if s.getErr != nil {
		return nil, s.getErr
	}
	obj, ok := s.objs[ref.Key()]
	if !ok {
		return nil, apierrors.NewNotFound(groupResource(ref), ref.Name)
	}
	return &kates.Unstructured{Object: runtime.DeepCopyJSON(obj)}, nil
}

func (s *memStore) Create(_ context.Context, un *kates.Unstructured) (*kates.Unstructured, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "create")
	ref := kates.RefFor(un)
	obj := runtime.DeepCopyJSON(un.Object)
	if s.reply != nil {
		obj = s.reply(obj)
	}
	if s.discard {
		return &kates.Unstructured{Object: obj}, nil
	}
	if _, ok := s.objs[ref.Key()]; ok {
		return nil, apierrors.NewAlreadyExists(groupResource(ref), ref.Name)
	}
	return &kates.Unstructured{Object: s.put(obj)}, nil
}

func (s *memStore) Patch(_ context.Context, ref kates.ResourceRef, pt kates.PatchType, data []byte) (*kates.Unstructured, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "patch")
	if s.beforePatch != nil {
		s.beforePatch(s, ref)
	}
	obj, ok := s.objs[ref.Key()]
	if !ok {
		return nil, apierrors.NewNotFound(groupResource(ref), ref.Name)
	}
	if pt != kates.MergePatchType {
		return nil, apierrors.NewBadRequest("unsupported patch type " + string(pt))
	}

	var patch struct {
		Metadata struct {
			ResourceVersion string `json:"resourceVersion"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, apierrors.NewBadRequest(err.Error())
	}
	current := (&kates.Unstructured{Object: obj}).GetResourceVersion()
	if want := patch.Metadata.ResourceVersion; want != "" && want != current {
		return nil, apierrors.NewConflict(groupResource(ref), ref.Name,
			apierrors.NewBadRequest("the object has been modified"))
	}

	original, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	patched, err := jsonpatch.MergePatch(original, data)
	if err != nil {
		return nil, apierrors.NewBadRequest(err.Error())
	}
	var out map[string]interface{}
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, err
	}
	return &kates.Unstructured{Object: s.put(out)}, nil
}

func (s *memStore) Delete(_ context.Context, ref kates.ResourceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete")
	if _, ok := s.objs[ref.Key()]; !ok {
		return apierrors.NewNotFound(groupResource(ref), ref.Name)
	}
	delete(s.objs, ref.Key())
	return nil
}
