// Package params merges defaults into user parameters using a tree of typed
// field descriptors.
//
// A descriptor tree can be written in YAML. Inside a field, the keys in
// ReservedNames describe the field itself; every other key is a child field:
//
//	options:
//	  type: dict
//	  nxos:
//	    type: dict
//	    mode:
//	      type: str
//	      default: disruptive
//	      choices: [disruptive, non_disruptive, force_non_disruptive]
package params

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kind is a parameter's value type.
type Kind string

const (
	KindString Kind = "str"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindList   Kind = "list"
	KindDict   Kind = "dict"
)

// ReservedNames are descriptor attributes; they are never merged as parameters.
var ReservedNames = mapset.NewSet(
	"choices", "default", "length_max", "no_log", "range_max",
	"range_min", "required", "type", "preferred_type", "elements",
)

// Field describes one parameter.
type Field struct {
	Type     Kind
	Default  any
	Required bool
	Choices  []any
	RangeMin *int
	RangeMax *int
	// Elements describes each entry of a list of dicts.
	Elements *Field
	Children map[string]*Field
}

// HasDefault reports whether the descriptor carries a default.
func (f *Field) HasDefault() bool {
	return f != nil && f.Default != nil
}

// Spec is a descriptor tree rooted at the top-level parameter names.
type Spec map[string]*Field

// ParseSpec reads a descriptor tree from YAML.
func ParseSpec(data []byte) (Spec, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "params: decode spec yaml")
	}
	spec := make(Spec, len(raw))
	for name, node := range raw {
		field, err := parseField(name, node)
		if err != nil {
			return nil, err
		}
		spec[name] = field
	}
	return spec, nil
}

func parseField(path string, node any) (*Field, error) {
	attrs, ok := node.(map[string]any)
	if !ok {
		return nil, errors.Errorf("params: %s must be a mapping, got %T", path, node)
	}
	field := &Field{Type: KindString}
	for key, val := range attrs {
		if !ReservedNames.Contains(key) {
			child, err := parseField(path+"."+key, val)
			if err != nil {
				return nil, err
			}
			if field.Children == nil {
				field.Children = make(map[string]*Field)
			}
			field.Children[key] = child
			continue
		}
		switch key {
		case "type":
			field.Type = Kind(fmt.Sprint(val))
		case "default":
			field.Default = val
		case "required":
			field.Required, _ = val.(bool)
		case "choices":
			field.Choices, _ = val.([]any)
		case "range_min":
			if n, ok := val.(int); ok {
				field.RangeMin = &n
			}
		case "range_max":
			if n, ok := val.(int); ok {
				field.RangeMax = &n
			}
		case "elements":
			elem, err := parseField(path+"[]", val)
			if err != nil {
				return nil, err
			}
			field.Elements = elem
		}
	}
	return field, nil
}

// MergeDefaults returns a deep copy of params with every missing parameter that
// has a default filled in. Dicts present after the merge are descended into,
// as is every dict entry of a list whose Elements describe a dict.
func MergeDefaults(spec Spec, params map[string]any) map[string]any {
	out := deepCopy(params).(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}
	mergeInto(spec, out)
	return out
}

func mergeInto(fields map[string]*Field, params map[string]any) {
	for name, field := range fields {
		if ReservedNames.Contains(name) || field == nil {
			continue
		}
		if _, ok := params[name]; !ok {
			if !field.HasDefault() {
				continue
			}
			params[name] = deepCopy(field.Default)
		}
		switch val := params[name].(type) {
		case map[string]any:
			if len(field.Children) > 0 {
				mergeInto(field.Children, val)
			}
		case []any:
			if field.Elements == nil || len(field.Elements.Children) == 0 {
				continue
			}
			for _, item := range val {
				if m, ok := item.(map[string]any); ok {
					mergeInto(field.Elements.Children, m)
				}
			}
		}
	}
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}

// Validate checks required fields, value types, choices and int ranges.
// Problems are reported with dotted parameter paths, sorted.
func Validate(spec Spec, params map[string]any) error {
	errs := validation.Errors{}
	validateInto("", spec, params, errs)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateInto(prefix string, fields map[string]*Field, params map[string]any, errs validation.Errors) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := fields[name]
		if field == nil || ReservedNames.Contains(name) {
			continue
		}
		path := prefix + name
		val, present := params[name]
		if !present || val == nil {
			if field.Required {
				errs[path] = validation.ErrRequired
			}
			continue
		}
		if err := validateValue(field, val); err != nil {
			errs[path] = err
			continue
		}
		switch v := val.(type) {
		case map[string]any:
			validateInto(path+".", field.Children, v, errs)
		case []any:
			if field.Elements == nil {
				continue
			}
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					validateInto(fmt.Sprintf("%s[%d].", path, i), field.Elements.Children, m, errs)
				}
			}
		}
	}
}

func validateValue(field *Field, val any) error {
	switch field.Type {
	case KindBool:
		if _, ok := val.(bool); !ok {
			return errors.Errorf("expected bool, got %T", val)
		}
	case KindInt:
		n, ok := val.(int)
		if !ok {
			return errors.Errorf("expected int, got %T", val)
		}
		rules := []validation.Rule{}
		if field.RangeMin != nil {
			rules = append(rules, validation.Min(*field.RangeMin))
		}
		if field.RangeMax != nil {
			rules = append(rules, validation.Max(*field.RangeMax))
		}
		if err := validation.Validate(n, rules...); err != nil {
			return err
		}
	case KindList:
		if _, ok := val.([]any); !ok {
			return errors.Errorf("expected list, got %T", val)
		}
	case KindDict:
		if _, ok := val.(map[string]any); !ok {
			return errors.Errorf("expected dict, got %T", val)
		}
	}
	if len(field.Choices) > 0 {
		return validation.Validate(val, validation.In(field.Choices...))
	}
	return nil
}
