package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"unicode"
	"unicode/utf8"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
)

// ItemGetter is implemented by runtime objects that expose named items to
// path traversal, such as the repeat-descriptor registry.
type ItemGetter interface {
	Item(name string) (any, bool)
}

// traverse resolves one path segment against a value: mapping keys, item
// getters, exported struct fields and numeric sequence indexes.
func traverse(value any, segment string) (any, error) {
	if value == nil {
		return nil, perrors.Eval("cannot traverse %q on nil", segment)
	}

	switch v := value.(type) {
	case ItemGetter:
		if item, ok := v.Item(segment); ok {
			return item, nil
		}
		return nil, perrors.Undefined(segment)
	case map[string]any:
		if item, ok := v[segment]; ok {
			return item, nil
		}
		return nil, perrors.Undefined(segment)
	case map[string]string:
		if item, ok := v[segment]; ok {
			return item, nil
		}
		return nil, perrors.Undefined(segment)
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, perrors.Eval("cannot traverse %q on nil pointer", segment)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		field := rv.FieldByName(segment)
		if !field.IsValid() {
			field = rv.FieldByName(titled(segment))
		}
		if field.IsValid() && field.CanInterface() {
			return field.Interface(), nil
		}
		return nil, perrors.Undefined(segment)
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(segment)
		if err != nil {
			return nil, perrors.Eval("sequence index %q is not a number", segment)
		}
		if index < 0 || index >= rv.Len() {
			return nil, perrors.Eval("sequence index %d out of range", index)
		}
		return rv.Index(index).Interface(), nil
	case reflect.Map:
		key := reflect.ValueOf(segment)
		if key.Type().AssignableTo(rv.Type().Key()) {
			item := rv.MapIndex(key)
			if item.IsValid() {
				return item.Interface(), nil
			}
		}
		return nil, perrors.Undefined(segment)
	}

	return nil, perrors.Eval("cannot traverse %q on %s", segment, fmt.Sprintf("%T", value))
}

func titled(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
