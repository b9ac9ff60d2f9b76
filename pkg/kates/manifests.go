package kates

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

// ParseManifests splits a multi-document YAML (or JSON) stream into untyped resources. Documents
// that are empty or only hold comments are skipped.
func ParseManifests(text string) ([]*Unstructured, error) {
	yr := utilyaml.NewYAMLReader(bufio.NewReader(strings.NewReader(text)))

	var result []*Unstructured

	for {
		bs, err := yr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		empty := true
		for _, line := range bytes.Split(bs, []byte("\n")) {
			if len(bytes.TrimSpace(bytes.SplitN(line, []byte("#"), 2)[0])) > 0 {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		var tm TypeMeta
		err = yaml.Unmarshal(bs, &tm)
		if err != nil {
			return nil, err
		}

		un := &Unstructured{}
		err = yaml.Unmarshal(bs, &un.Object)
		if err != nil {
			return nil, err
		}
		if un.Object == nil {
			continue
		}
		un.SetGroupVersionKind(tm.GroupVersionKind())

		result = append(result, un)
	}

	return result, nil
}

// ParseManifestFile reads and parses the manifests in the file at path.
func ParseManifestFile(path string) ([]*Unstructured, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	objs, err := ParseManifests(string(bs))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return objs, nil
}

// MarshalYAML renders obj the way kubectl prints resources, for human-readable output and diffs.
func MarshalYAML(obj map[string]interface{}) (string, error) {
	if obj == nil {
		return "", nil
	}
	bs, err := yaml.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}
