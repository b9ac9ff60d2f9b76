package kubemodule

import (
	"context"

	"github.com/pkg/errors"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/emissary-ingress/kubemodules/pkg/fswatch"
	"github.com/emissary-ingress/kubemodules/pkg/schema"
)

// watch reconciles once, and again every time the src file changes, until ctx is done. Failed
// runs are reported and do not stop the watch.
func (r *runner) watch(ctx context.Context, load func() (map[string]interface{}, error)) error {
	params, err := load()
	if err != nil {
		return r.fail(err)
	}
	src, ok := params[schema.OptSrc].(string)
	if !ok || src == "" {
		return r.fail(errors.New("--watch needs the src parameter"))
	}

	w, err := fswatch.New(ctx)
	if err != nil {
		return r.fail(err)
	}
	w.SetErrorHandler(func(ctx context.Context, err error) {
		_ = r.fail(errors.Wrapf(err, "watching %s", src))
	})
	changed := make(chan struct{}, 1)
	err = w.WatchFile(ctx, src, func(ctx context.Context, event fswatch.Event) {
		if event.Op == fswatch.OpDelete {
			dlog.Infof(ctx, "%s was removed, waiting for it to come back", event.Path)
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		_ = w.Close()
		return r.fail(err)
	}

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})
	grp.Go("fswatch", w.Run)
	grp.Go("reconcile", func(ctx context.Context) error {
		for {
			// params is nil while the file does not parse.
			if params != nil {
				if err := r.runOnce(ctx, params); err != nil {
					dlog.Errorf(ctx, "%v", err)
				}
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return nil
			}
			p, err := load()
			if err != nil {
				_ = r.fail(err)
				params = nil
				continue
			}
			params = p
		}
	})
	return grp.Wait()
}
