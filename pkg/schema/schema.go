// Package schema describes the flat, Ansible-style option sets of the kubernetes modules and turns
// a set of module parameters into a desired object for the reconcile engine.
//
// Each module has a Schema naming the apiVersion and kind it manages and, for every
// kind-specific option, the nested object path the option populates. A Builder compiled from
// the Schema checks and coerces parameters the way Ansible does before building the object.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

type OptionType string

const (
	TypeString OptionType = "str"
	TypeBool   OptionType = "bool"
	TypeInt    OptionType = "int"
	TypeDict   OptionType = "dict"
	TypeList   OptionType = "list"
	TypePath   OptionType = "path"
)

func (t OptionType) valid() bool {
	switch t {
	case TypeString, TypeBool, TypeInt, TypeDict, TypeList, TypePath:
		return true
	}
	return false
}

// An Option is one module parameter. Options with a Path populate that field of the desired
// object; options without one steer the module itself.
type Option struct {
	Name    string
	Path    []string
	Type    OptionType // defaults to TypeString
	Aliases []string
	Choices []string
}

type Schema struct {
	Module     string
	APIVersion string
	Kind       string
	Namespaced bool
	// CreateOnly kinds are reviews and imports that the server evaluates and never stores.
	// Every run creates one and reports the server's reply.
	CreateOnly bool
	Options    []Option
	// Typed, if set, returns a pointer to the Go type that built objects must strictly decode
	// into.
	Typed func() interface{}
}

// ResultKey is the key the module reports the resulting object under: the snake_case kind.
func (s Schema) ResultKey() string {
	return snakeCase(s.Kind)
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OptionError reports module parameters that cannot be turned into a desired object.
type OptionError struct {
	Module string
	Option string
	Reason string
}

func (e *OptionError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("%s: %s", e.Module, e.Reason)
	}
	return fmt.Sprintf("%s: option %s: %s", e.Module, e.Option, e.Reason)
}

func (b *Builder) errorf(option, format string, args ...interface{}) error {
	return &OptionError{Module: b.schema.Module, Option: option, Reason: fmt.Sprintf(format, args...)}
}

// A Builder turns module parameters into requests for one Schema. It is safe for concurrent use.
type Builder struct {
	schema Schema
	// options by canonical name, common options included
	options map[string]*Option
	// names maps every accepted name and alias to its canonical name
	names map[string]string
	// kind holds the names of the kind-specific options
	kind map[string]bool
}

// NewBuilder compiles s. It fails if two options share a name or alias, or populate the same path.
func NewBuilder(s Schema) (*Builder, error) {
	if s.Module == "" || s.APIVersion == "" || s.Kind == "" {
		return nil, errors.Errorf("schema %q: module, apiVersion and kind are required", s.Module)
	}
	b := &Builder{
		schema:  s,
		options: make(map[string]*Option),
		names:   make(map[string]string),
		kind:    make(map[string]bool),
	}
	paths := make(map[string]string)
	for _, o := range commonOptions(s) {
		if err := b.add(o, paths); err != nil {
			return nil, err
		}
	}
	for _, o := range s.Options {
		if len(o.Path) == 0 {
			return nil, errors.Errorf("schema %s: option %s has no path", s.Module, o.Name)
		}
		if err := b.add(o, paths); err != nil {
			return nil, err
		}
		b.kind[o.Name] = true
	}
	return b, nil
}

func (b *Builder) add(o Option, paths map[string]string) error {
	module := b.schema.Module
	if o.Name == "" {
		return errors.Errorf("schema %s: option with no name", module)
	}
	if o.Type == "" {
		o.Type = TypeString
	}
	if !o.Type.valid() {
		return errors.Errorf("schema %s: option %s: unknown type %q", module, o.Name, o.Type)
	}
	if len(o.Choices) > 0 && o.Type != TypeString {
		return errors.Errorf("schema %s: option %s: choices need type %s", module, o.Name, TypeString)
	}
	for _, n := range append([]string{o.Name}, o.Aliases...) {
		if other, ok := b.names[n]; ok {
			return errors.Errorf("schema %s: option %s: name %q is already used by option %s", module, o.Name, n, other)
		}
		b.names[n] = o.Name
	}
	if len(o.Path) > 0 {
		key := strings.Join(o.Path, ".")
		if other, ok := paths[key]; ok {
			return errors.Errorf("schema %s: options %s and %s both set %s", module, other, o.Name, key)
		}
		paths[key] = o.Name
	}
	b.options[o.Name] = &o
	return nil
}

func (b *Builder) Schema() Schema {
	return b.schema
}

// Options lists the canonical names of every option the builder accepts.
func (b *Builder) Options() []string {
	names := make([]string, 0, len(b.options))
	for name := range b.options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
