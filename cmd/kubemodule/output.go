package kubemodule

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/emissary-ingress/kubemodules/pkg/driver"
	"github.com/emissary-ingress/kubemodules/pkg/schema"
)

// objectResult is what an Ansible module reports for one object.
func objectResult(s schema.Schema, result driver.Result) map[string]interface{} {
	out := map[string]interface{}{
		"changed":     result.Changed,
		"action":      string(result.Action),
		"api_version": s.APIVersion,
		s.ResultKey(): result.Object,
	}
	if result.Diff != "" {
		out["diff"] = map[string]interface{}{"prepared": result.Diff}
	}
	return out
}

// moduleResult reports one object directly and several (from a multi-document src) as a list.
func moduleResult(s schema.Schema, results []driver.Result) map[string]interface{} {
	if len(results) == 1 {
		return objectResult(s, results[0])
	}
	changed := false
	list := make([]interface{}, 0, len(results))
	for _, result := range results {
		changed = changed || result.Changed
		list = append(list, objectResult(s, result))
	}
	return map[string]interface{}{
		"changed": changed,
		"results": list,
	}
}

func (r *runner) print(out map[string]interface{}) error {
	bs, err := json.Marshal(out)
	if err != nil {
		return err
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, err = r.out.Write(append(bs, '\n'))
	return err
}

// failedError is returned once the failure has been reported on stdout.
type failedError struct {
	err error
}

func (e *failedError) Error() string { return e.err.Error() }
func (e *failedError) Unwrap() error { return e.err }
func (e *failedError) ExitCode() int { return 1 }

// fail reports err the way a failing Ansible module does.
func (r *runner) fail(err error) error {
	if perr := r.print(map[string]interface{}{
		"failed": true,
		"msg":    "Module failed!",
		"error":  err.Error(),
	}); perr != nil {
		return errors.Wrap(perr, err.Error())
	}
	return &failedError{err: err}
}
