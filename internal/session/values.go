package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"telegram-bot-client/internal/methods"
)

// PrepareValue converts a request value into its form-encoded wire string.
//
// Text is passed through, numbers and booleans are rendered in decimal form,
// timestamps become Unix seconds and durations use their standard textual
// form. Containers and structs are cleaned of null entries and encoded as
// JSON with ", " and ": " separators, keeping key order for methods.Fields.
func PrepareValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return strconv.FormatInt(v.Unix(), 10), nil
	case *time.Time:
		if v == nil {
			return encodeValue(nil)
		}
		return strconv.FormatInt(v.Unix(), 10), nil
	case time.Duration:
		return v.String(), nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return encodeValue(nil)
		}
		return PrepareValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}

	return encodeValue(CleanJSON(value))
}

func encodeValue(value any) (string, error) {
	data, err := methods.EncodeJSON(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode value of type %T: %w", value, err)
	}
	return string(spaceSeparators(data)), nil
}

// spaceSeparators adds a space after every ',' and ':' that sits outside a
// JSON string. The input must be compact.
func spaceSeparators(data []byte) []byte {
	out := bytes.NewBuffer(make([]byte, 0, len(data)+len(data)/4))
	inString, escaped := false, false
	for _, c := range data {
		out.WriteByte(c)
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && (c == ',' || c == ':'):
			out.WriteByte(' ')
		}
	}
	return out.Bytes()
}

// CleanJSON returns a copy of a mapping or sequence with null entries
// removed at every nesting level. Surviving entries keep their relative
// order. Typed slices, arrays and string-keyed maps come back as []any and
// map[string]any. Any other value is returned unchanged. The input is never
// modified.
func CleanJSON(value any) any {
	switch v := value.(type) {
	case methods.Fields:
		cleaned := make(methods.Fields, 0, len(v))
		for _, field := range v {
			if isNull(field.Value) {
				continue
			}
			cleaned = append(cleaned, methods.Field{Key: field.Key, Value: CleanJSON(field.Value)})
		}
		return cleaned
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, item := range v {
			if isNull(item) {
				continue
			}
			cleaned[key] = CleanJSON(item)
		}
		return cleaned
	case []any:
		cleaned := make([]any, 0, len(v))
		for _, item := range v {
			if isNull(item) {
				continue
			}
			cleaned = append(cleaned, CleanJSON(item))
		}
		return cleaned
	case json.Marshaler, []byte:
		return value
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return value
		}
		cleaned := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			if isNull(item) {
				continue
			}
			cleaned = append(cleaned, CleanJSON(item))
		}
		return cleaned
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value
		}
		cleaned := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item := iter.Value().Interface()
			if isNull(item) {
				continue
			}
			cleaned[iter.Key().String()] = CleanJSON(item)
		}
		return cleaned
	}
	return value
}

// isNull reports whether v is the absence marker: untyped nil or a nil pointer.
// Nil slices and maps are empty containers, not absent values.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
