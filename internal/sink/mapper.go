package sink

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// ListSeparator separates items of multi-valued fields in a string value
const ListSeparator = ", "

// Record is a flat field -> value mapping as delivered by the tap
type Record = map[string]any

// UnsupportedTypeError is returned for a declared type with no converter
type UnsupportedTypeError struct {
	Type PropertyType
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("Unsupported property type: %s", e.Type)
}

// ConversionError is returned when a value cannot be shaped into its declared type
type ConversionError struct {
	Type  PropertyType
	Value any
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("invalid %s value %v: %v", e.Type, e.Value, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

type converter func(t PropertyType, value any) (any, error)

var converters = map[PropertyType]converter{
	TypeTitle:       richTextProperty,
	TypeRichText:    richTextProperty,
	TypeNumber:      numberProperty,
	TypeSelect:      selectProperty,
	TypeMultiSelect: multiSelectProperty,
	TypeDate:        dateProperty,
	TypePeople:      idListProperty,
	TypeFiles:       filesProperty,
	TypeCheckbox:    passThroughProperty,
	TypeURL:         stringProperty,
	TypeEmail:       stringProperty,
	TypePhoneNumber: stringProperty,
	TypeRelation:    idListProperty,
}

// Convert shapes value into the property payload for type t,
// e.g. {"select": {"name": "Done"}}.
func Convert(t PropertyType, value any) (map[string]any, error) {
	conv, ok := converters[t]
	if !ok {
		return nil, &UnsupportedTypeError{Type: t}
	}
	payload, err := conv(t, value)
	if err != nil {
		return nil, err
	}
	return map[string]any{string(t): payload}, nil
}

// BuildProperties converts a normalized record into page properties keyed by display
// name. Fields missing from the schema and empty values are left out.
func BuildProperties(schema Schema, record Record) (map[string]any, error) {
	props := make(map[string]any, len(record))
	for _, key := range sortedKeys(record) {
		value := record[key]
		entry, ok := schema[key]
		if !ok || IsEmpty(value) {
			continue
		}

		prop, err := Convert(entry.Type, value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", entry.DisplayName, err)
		}
		props[entry.DisplayName] = prop
	}
	return props, nil
}

// IsEmpty reports whether value carries no information: nil, "", false, zero
// numbers and empty lists or objects.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return rv.IsZero()
	}
	return false
}

func richTextProperty(_ PropertyType, value any) (any, error) {
	return []map[string]any{
		{"text": map[string]any{"content": stringify(value)}},
	}, nil
}

func numberProperty(t PropertyType, value any) (any, error) {
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return nil, &ConversionError{Type: t, Value: value, Err: err}
	}
	return f, nil
}

func selectProperty(_ PropertyType, value any) (any, error) {
	return map[string]any{"name": stripCommas(stringify(value))}, nil
}

func multiSelectProperty(_ PropertyType, value any) (any, error) {
	items := splitList(value)
	options := make([]map[string]any, 0, len(items))
	for _, item := range items {
		options = append(options, map[string]any{"name": stripCommas(item)})
	}
	return options, nil
}

func dateProperty(_ PropertyType, value any) (any, error) {
	if s, ok := value.(string); ok {
		return map[string]any{"start": s}, nil
	}
	return map[string]any{"start": stringify(value)}, nil
}

func idListProperty(_ PropertyType, value any) (any, error) {
	items := splitList(value)
	refs := make([]map[string]any, 0, len(items))
	for _, id := range items {
		refs = append(refs, map[string]any{"id": id})
	}
	return refs, nil
}

// filesProperty copies {name, url} objects through. A plain string is split into
// URLs, each used as its own name.
func filesProperty(t PropertyType, value any) (any, error) {
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		for _, s := range splitList(value) {
			items = append(items, s)
		}
	}

	files := make([]map[string]any, 0, len(items))
	for _, item := range items {
		switch f := item.(type) {
		case map[string]any:
			name := cast.ToString(f["name"])
			url := cast.ToString(f["url"])
			if url == "" {
				return nil, &ConversionError{Type: t, Value: value, Err: fmt.Errorf("file %q has no url", name)}
			}
			if name == "" {
				name = url
			}
			files = append(files, map[string]any{"name": name, "url": url})
		default:
			s := stringify(f)
			files = append(files, map[string]any{"name": s, "url": s})
		}
	}
	return files, nil
}

func passThroughProperty(_ PropertyType, value any) (any, error) {
	return value, nil
}

func stringProperty(_ PropertyType, value any) (any, error) {
	return stringify(value), nil
}

// stringify renders scalars the way they appear in the source data and falls back
// to JSON for lists and objects.
func stringify(value any) string {
	if s, err := cast.ToStringE(value); err == nil {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(b)
}

// splitList splits a string on ListSeparator; lists are used element-wise
func splitList(value any) []string {
	if list, ok := value.([]any); ok {
		items := make([]string, 0, len(list))
		for _, item := range list {
			items = append(items, stringify(item))
		}
		return items
	}
	return strings.Split(stringify(value), ListSeparator)
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func sortedKeys(record Record) []string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
