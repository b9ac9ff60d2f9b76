package reconcile

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/equality"
)

// List elements are matched on these fields, in order of preference.
const (
	MergeKeyName = "name"
	MergeKeyType = "type"
)

type merger struct {
	policy Policy
}

// mergeMap returns a new mapping holding observed with desired folded in. Neither argument is
// modified; values taken from either side are shared with the result, so callers hand in
// private copies.
func (m merger) mergeMap(path string, observed, desired map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(observed)+len(desired))
	for k, v := range observed {
		out[k] = v
	}
	for k, dv := range desired {
		if dv == nil {
			delete(out, k)
			continue
		}
		ov, ok := observed[k]
		if !ok || ov == nil {
			out[k] = dv
			continue
		}
		merged, err := m.mergeValue(childPath(path, k), ov, dv)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}

func (m merger) mergeValue(path string, observed, desired interface{}) (interface{}, error) {
	switch d := desired.(type) {
	case map[string]interface{}:
		if o, ok := observed.(map[string]interface{}); ok {
			return m.mergeMap(path, o, d)
		}
		return d, nil
	case []interface{}:
		if m.policy == PolicyReplace {
			return d, nil
		}
		o, ok := observed.([]interface{})
		if !ok {
			return nil, validationErrorf(path, "desired value is a list but the observed value is %s", describe(observed))
		}
		return m.mergeList(path, o, d)
	default:
		return d, nil
	}
}

// mergeList keeps every observed element in its original position, merges desired elements into
// observed elements that share their merge key, and appends the remaining desired elements in
// order. Desired elements that cannot be matched are only appended if no equal element exists.
func (m merger) mergeList(path string, observed, desired []interface{}) ([]interface{}, error) {
	key := ListMergeKey(desired)
	if key != "" {
		if err := checkMergeKey(path, key, observed); err != nil {
			return nil, err
		}
	}

	out := make([]interface{}, len(observed), len(observed)+len(desired))
	copy(out, observed)

	index := make(map[string]int)
	if key != "" {
		for i, elem := range out {
			if kv, ok := mergeKeyValue(elem, key); ok {
				if _, dup := index[kv]; !dup {
					index[kv] = i
				}
			}
		}
	}

	for _, de := range desired {
		if key != "" {
			if kv, ok := mergeKeyValue(de, key); ok {
				if i, found := index[kv]; found {
					om, isMap := out[i].(map[string]interface{})
					if !isMap {
						return nil, validationErrorf(indexPath(path, i), "observed element is %s", describe(out[i]))
					}
					merged, err := m.mergeMap(indexPath(path, i), om, de.(map[string]interface{}))
					if err != nil {
						return nil, err
					}
					out[i] = merged
					continue
				}
				index[kv] = len(out)
				out = append(out, de)
				continue
			}
		}
		if !containsEqual(out, de) {
			out = append(out, de)
		}
	}
	return out, nil
}

// ListMergeKey returns the field used to match elements of list: "name" if any element is a
// mapping with a name, else "type" if any element is a mapping with a type, else "".
func ListMergeKey(list []interface{}) string {
	hasType := false
	for _, elem := range list {
		em, ok := elem.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := em[MergeKeyName]; ok {
			return MergeKeyName
		}
		if _, ok := em[MergeKeyType]; ok {
			hasType = true
		}
	}
	if hasType {
		return MergeKeyType
	}
	return ""
}

// checkMergeKey rejects observed lists whose elements cannot be matched on key at all.
func checkMergeKey(path, key string, observed []interface{}) error {
	if len(observed) == 0 {
		return nil
	}
	for i, elem := range observed {
		if _, ok := elem.(map[string]interface{}); !ok {
			return validationErrorf(indexPath(path, i),
				"list is merged by %q but the observed element is %s", key, describe(elem))
		}
	}
	for _, elem := range observed {
		if _, ok := elem.(map[string]interface{})[key]; ok {
			return nil
		}
	}
	return validationErrorf(path, "list is merged by %q but no observed element has that field", key)
}

func mergeKeyValue(elem interface{}, key string) (string, bool) {
	em, ok := elem.(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := em[key]
	if !ok || v == nil {
		return "", false
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return "", false
	}
	// 1 and "1" are different keys.
	return fmt.Sprintf("%T:%v", v, v), true
}

func containsEqual(list []interface{}, elem interface{}) bool {
	for _, e := range list {
		if equality.Semantic.DeepEqual(e, elem) {
			return true
		}
	}
	return false
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "a mapping"
	case []interface{}:
		return "a list"
	case string:
		return "a string"
	case bool:
		return "a bool"
	case int64, float64:
		return "a number"
	}
	return fmt.Sprintf("a %T", v)
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
