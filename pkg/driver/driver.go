// Package driver runs module requests against a cluster: it fetches the observed object, lets the
// reconcile engine decide what to do, applies that, and retries when the object changed
// underneath it.
package driver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/datawire/dlib/dlog"

	"github.com/emissary-ingress/kubemodules/pkg/kates"
	"github.com/emissary-ingress/kubemodules/pkg/reconcile"
	"github.com/emissary-ingress/kubemodules/pkg/schema"
)

// Store is the part of the cluster API the driver uses. *kates.Client implements it.
type Store interface {
	Get(ctx context.Context, ref kates.ResourceRef) (*kates.Unstructured, error)
	Create(ctx context.Context, obj *kates.Unstructured) (*kates.Unstructured, error)
	Patch(ctx context.Context, ref kates.ResourceRef, pt kates.PatchType, data []byte) (*kates.Unstructured, error)
	Delete(ctx context.Context, ref kates.ResourceRef) error
}

var _ Store = (*kates.Client)(nil)

// A store that caches discovery can be asked to forget it, so that kinds installed since (e.g. by
// a CRD) resolve.
type cacheInvalidator interface {
	InvalidateCache() error
}

var _ cacheInvalidator = (*kates.Client)(nil)

type RetryConfig struct {
	// MaxAttempts bounds how many times a request is reconciled when the store keeps reporting
	// conflicts.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetry = RetryConfig{
	MaxAttempts:     5,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

type Driver struct {
	Store Store
	Retry RetryConfig

	locks keyLock
}

type Option func(*Driver)

func WithRetry(cfg RetryConfig) Option {
	return func(d *Driver) {
		d.Retry = cfg
	}
}

func New(store Store, opts ...Option) *Driver {
	d := &Driver{
		Store: store,
		Retry: DefaultRetry,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result describes what a run did, in the shape the module reports it.
type Result struct {
	Changed bool
	Action  reconcile.ActionType
	// Object is the object as the store holds it afterwards (in check mode: as it would hold
	// it). It is nil when the object does not exist.
	Object map[string]interface{}
	// Diff is a unified diff of the object before and after, if the request asked for one.
	Diff     string
	Attempts int
}

func (d *Driver) newBackOff(ctx context.Context) backoff.BackOff {
	cfg := d.Retry
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), ctx)
}

// Run reconciles one request. Requests for the same object are serialized; requests for
// different objects run independently.
func (d *Driver) Run(ctx context.Context, req schema.Request) (Result, error) {
	unlock := d.locks.lock(req.Ref.Key())
	defer unlock()

	if req.CreateOnly {
		return d.createOnly(ctx, req)
	}

	var result Result
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		var err error
		result, err = d.runOnce(ctx, req)
		var conflict *reconcile.ConflictError
		// Conflicts found by reconcile come from a pinned resource version and stay the same
		// however often the object is fetched again.
		if errors.As(err, &conflict) && conflict.Err != nil {
			dlog.Debugf(ctx, "%s: attempt %d: %v", req.Ref, attempts, err)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, d.newBackOff(ctx))
	result.Attempts = attempts
	return result, err
}

func (d *Driver) runOnce(ctx context.Context, req schema.Request) (Result, error) {
	observed, err := d.fetch(ctx, req.Ref)
	if err != nil {
		return Result{}, err
	}

	action, err := reconcile.Reconcile(req.Desired, observed, req.Policy)
	if err != nil {
		return Result{}, err
	}
	dlog.Debugf(ctx, "%s: %s", req.Ref, action)

	result := Result{Changed: action.Changed(), Action: action.Type}
	switch {
	case req.CheckMode:
		result.Object = action.Merged
	case action.Type == reconcile.ActionNoOp:
		result.Object = observed
	default:
		result.Object, err = d.apply(ctx, req.Ref, action, observed)
		if err != nil {
			return Result{}, err
		}
		dlog.Infof(ctx, "%s: %s", req.Ref, action)
	}

	if req.Diff {
		result.Diff, err = unifiedDiff(req.Ref, observed, result.Object)
		if err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

// fetch returns the observed object, or nil if it does not exist.
func (d *Driver) fetch(ctx context.Context, ref kates.ResourceRef) (map[string]interface{}, error) {
	obj, err := d.Store.Get(ctx, ref)
	if kates.IsUnknownResource(err) {
		if inv, ok := d.Store.(cacheInvalidator); ok {
			dlog.Debugf(ctx, "%s: %v, refreshing discovery", ref, err)
			if err := inv.InvalidateCache(); err != nil {
				return nil, &TransportError{Verb: "discover", Ref: ref, Err: err}
			}
			obj, err = d.Store.Get(ctx, ref)
		}
	}
	if err != nil {
		if kates.IsNotFound(err) {
			return nil, nil
		}
		if kates.IsUnknownResource(err) {
			return nil, &UnknownKindError{Ref: ref, Err: err}
		}
		return nil, &TransportError{Verb: "get", Ref: ref, Err: err}
	}
	return obj.Object, nil
}

func (d *Driver) apply(ctx context.Context, ref kates.ResourceRef, action reconcile.Action, observed map[string]interface{}) (map[string]interface{}, error) {
	switch action.Type {
	case reconcile.ActionCreate:
		body, err := reconcile.Normalize(action.Body)
		if err != nil {
			return nil, err
		}
		unstructured.RemoveNestedField(body, "metadata", "resourceVersion")
		created, err := d.Store.Create(ctx, &kates.Unstructured{Object: body})
		if err != nil {
			// Somebody else created it first.
			if kates.IsAlreadyExists(err) {
				return nil, conflict(ref, "", err)
			}
			return nil, &TransportError{Verb: "create", Ref: ref, Err: err}
		}
		return created.Object, nil

	case reconcile.ActionPatch:
		body, err := reconcile.Normalize(action.Body)
		if err != nil {
			return nil, err
		}
		// The store rejects the patch if the object moved on since it was observed.
		rv, _, _ := unstructured.NestedString(observed, "metadata", "resourceVersion")
		if rv != "" {
			if err := unstructured.SetNestedField(body, rv, "metadata", "resourceVersion"); err != nil {
				return nil, err
			}
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding patch")
		}
		patched, err := d.Store.Patch(ctx, ref, kates.MergePatchType, data)
		if err != nil {
			if kates.IsConflict(err) {
				return nil, conflict(ref, rv, err)
			}
			return nil, &TransportError{Verb: "patch", Ref: ref, Err: err}
		}
		return patched.Object, nil

	case reconcile.ActionDelete:
		if err := d.Store.Delete(ctx, ref); err != nil && !kates.IsNotFound(err) {
			if kates.IsConflict(err) {
				return nil, conflict(ref, "", err)
			}
			return nil, &TransportError{Verb: "delete", Ref: ref, Err: err}
		}
		return nil, nil
	}
	return nil, errors.Errorf("unknown action %q", action.Type)
}

// createOnly submits a review or import. The store evaluates it and replies; nothing is stored.
func (d *Driver) createOnly(ctx context.Context, req schema.Request) (Result, error) {
	body, err := reconcile.Normalize(req.Desired.Fields)
	if err != nil {
		return Result{}, err
	}
	result := Result{Changed: true, Action: reconcile.ActionCreate, Object: body, Attempts: 1}
	if !req.CheckMode {
		created, err := d.Store.Create(ctx, &kates.Unstructured{Object: body})
		if err != nil {
			if kates.IsUnknownResource(err) {
				return Result{}, &UnknownKindError{Ref: req.Ref, Err: err}
			}
			return Result{}, &TransportError{Verb: "create", Ref: req.Ref, Err: err}
		}
		result.Object = created.Object
		dlog.Infof(ctx, "%s: %s", req.Ref, reconcile.ActionCreate)
	}
	if req.Diff {
		result.Diff, err = unifiedDiff(req.Ref, nil, result.Object)
		if err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

// RunAll runs reqs with at most concurrency of them in flight (no limit if concurrency < 1). The
// first failure cancels the requests that have not finished yet.
func (d *Driver) RunAll(ctx context.Context, reqs []schema.Request, concurrency int) ([]Result, error) {
	results := make([]Result, len(reqs))
	grp, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		grp.SetLimit(concurrency)
	}
	for i, req := range reqs {
		i, req := i, req
		grp.Go(func() error {
			result, err := d.Run(gctx, req)
			results[i] = result
			return errors.Wrap(err, req.Ref.String())
		})
	}
	return results, grp.Wait()
}
