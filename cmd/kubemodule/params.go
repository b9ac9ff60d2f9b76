package kubemodule

import (
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"

	"github.com/emissary-ingress/kubemodules/pkg/schema"
)

// loadParams reads the module parameters: the arguments file, then the --set overrides, then
// K8S_AUTH_* environment variables for connection options that are still unset.
func loadParams(argsFile string, sets []string) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if argsFile != "" {
		bs, err := os.ReadFile(argsFile)
		if err != nil {
			return nil, err
		}
		params, err = parseArgs(bs)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", argsFile)
		}
	}

	for _, set := range sets {
		kv := strings.SplitN(set, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, errors.Errorf("--set %q: expected key=value", set)
		}
		params[kv[0]] = parseValue(kv[1])
	}

	env := viper.New()
	env.SetEnvPrefix("K8S_AUTH")
	for _, opt := range schema.ConnectionOptions {
		if err := env.BindEnv(opt); err != nil {
			return nil, err
		}
		if v, ok := params[opt]; (!ok || v == nil) && env.IsSet(opt) {
			params[opt] = env.GetString(opt)
		}
	}
	return params, nil
}

// parseArgs decodes an arguments file. Ansible writes JSON for modules that ask for it, and
// "key=value key=value" otherwise; YAML is accepted too.
func parseArgs(bs []byte) (map[string]interface{}, error) {
	var params map[string]interface{}
	if err := yaml.Unmarshal(bs, &params); err == nil {
		if params == nil {
			params = make(map[string]interface{})
		}
		return params, nil
	}

	// Ansible quotes the pairs the way a shell would.
	fields, err := shellquote.Split(string(bs))
	if err != nil {
		return nil, err
	}
	params = make(map[string]interface{})
	for _, field := range fields {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, errors.Errorf("%q is not a key=value pair", field)
		}
		params[kv[0]] = kv[1]
	}
	return params, nil
}

// parseValue reads a --set value as YAML, so that "true", "3" and "{a: b}" get their natural
// types. Anything that is not valid YAML is taken as a string.
func parseValue(s string) interface{} {
	var v interface{}
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
