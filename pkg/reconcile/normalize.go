package reconcile

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime"
)

// normalizeObject returns a private copy of obj in which every value is one of the JSON-compatible
// types apimachinery uses for unstructured content: nil, bool, string, int64, float64,
// map[string]interface{} and []interface{}. Integral floats become int64 so that objects decoded
// by different YAML/JSON libraries compare equal.
func normalizeObject(obj map[string]interface{}) (map[string]interface{}, error) {
	if obj == nil {
		return map[string]interface{}{}, nil
	}
	out, err := normalize("", obj)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}

// Normalize is normalizeObject for callers that build objects outside this package.
func Normalize(obj map[string]interface{}) (map[string]interface{}, error) {
	return normalizeObject(obj)
}

func normalize(path string, v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return normalizeFloat(path, x)
	case float32:
		return normalizeFloat(path, float64(x))
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, validationErrorf(path, "invalid number %q", x.String())
		}
		return normalizeFloat(path, f)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			n, err := normalize(childPath(path, k), e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			n, err := normalize(indexPath(path, i), e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(path, rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return normalizeFloat(path, float64(u))
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(path, rv.Float())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, validationErrorf(path, "mapping keys must be strings, not %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			n, err := normalize(childPath(path, k), iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := normalize(indexPath(path, i), rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	// Structs and anything else with a JSON representation.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, validationErrorf(path, "cannot represent %T: %v", v, err)
	}
	return decodeJSON(path, data)
}

func normalizeFloat(path string, f float64) (interface{}, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, validationErrorf(path, "%v is not a valid number", f)
	}
	if f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
		return int64(f), nil
	}
	return f, nil
}

func decodeJSON(path string, data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return normalize(path, out)
}

func deepCopy(obj map[string]interface{}) map[string]interface{} {
	if obj == nil {
		return nil
	}
	return runtime.DeepCopyJSON(obj)
}

// mergePatch returns the JSON merge patch (RFC 7386) that turns observed into merged.
func mergePatch(observed, merged map[string]interface{}) (map[string]interface{}, error) {
	original, err := json.Marshal(observed)
	if err != nil {
		return nil, errors.Wrap(err, "encoding observed object")
	}
	modified, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.Wrap(err, "encoding merged object")
	}
	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return nil, errors.Wrap(err, "computing merge patch")
	}
	body, err := decodeJSON("", patch)
	if err != nil {
		return nil, err
	}
	return body.(map[string]interface{}), nil
}
