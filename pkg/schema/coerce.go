package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// coerce converts a parameter to the option's type, accepting the same loose spellings Ansible
// accepts. v has already been normalized, so numbers are int64 or float64.
func coerce(t OptionType, v interface{}) (interface{}, error) {
	switch t {
	case TypeString:
		return toString(v)
	case TypePath:
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		return expandPath(s), nil
	case TypeBool:
		return toBool(v)
	case TypeInt:
		return toInt(v)
	case TypeDict:
		return toDict(v)
	case TypeList:
		return toList(v)
	}
	return nil, errors.Errorf("unknown option type %q", t)
}

func toString(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool, int64, float64:
		return fmt.Sprint(x), nil
	}
	return "", errors.Errorf("%s cannot be converted to a string", kindOf(v))
}

func expandPath(s string) string {
	s = os.ExpandEnv(s)
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[1:])
		}
	}
	return s
}

func toBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		switch x {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "on", "1", "true", "y", "t":
			return true, nil
		case "no", "off", "0", "false", "n", "f":
			return false, nil
		}
	}
	return false, errors.Errorf("%v cannot be converted to a bool", v)
}

func toInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err == nil {
			return i, nil
		}
	}
	return 0, errors.Errorf("%v cannot be converted to an int", v)
}

// toDict accepts a mapping, a JSON/YAML flow mapping in a string, or "k1=v1, k2=v2".
func toDict(v interface{}) (map[string]interface{}, error) {
	switch x := v.(type) {
	case map[string]interface{}:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "{") {
			var out map[string]interface{}
			if err := yaml.Unmarshal([]byte(s), &out); err != nil {
				return nil, errors.Wrap(err, "cannot be converted to a dict")
			}
			return out, nil
		}
		out := make(map[string]interface{})
		for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				return nil, errors.Errorf("%q cannot be converted to a dict: expected key=value", field)
			}
			out[kv[0]] = kv[1]
		}
		return out, nil
	}
	return nil, errors.Errorf("%s cannot be converted to a dict", kindOf(v))
}

// toList accepts a list, a JSON/YAML flow sequence in a string, a comma separated string, or a
// single scalar.
func toList(v interface{}) ([]interface{}, error) {
	switch x := v.(type) {
	case []interface{}:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "[") {
			var out []interface{}
			if err := yaml.Unmarshal([]byte(s), &out); err != nil {
				return nil, errors.Wrap(err, "cannot be converted to a list")
			}
			return out, nil
		}
		var out []interface{}
		for _, e := range strings.Split(s, ",") {
			out = append(out, strings.TrimSpace(e))
		}
		return out, nil
	case bool, int64, float64:
		return []interface{}{fmt.Sprint(x)}, nil
	}
	return nil, errors.Errorf("%s cannot be converted to a list", kindOf(v))
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}:
		return "a dict"
	case []interface{}:
		return "a list"
	}
	return fmt.Sprintf("%T", v)
}
