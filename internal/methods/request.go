package methods

import (
	"bytes"
	"encoding/json"
	"time"
)

// Field is a single named request parameter
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered set of request parameters. Its JSON form keeps insertion order.
type Fields []Field

// Get returns the value stored under key
func (f Fields) Get(key string) (any, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key, or appends it when the key is new
func (f *Fields) Set(key string, value any) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, Field{Key: key, Value: value})
}

// Keys returns the parameter names in order
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for _, field := range f {
		keys = append(keys, field.Key)
	}
	return keys
}

// MarshalJSON encodes the fields as a JSON object in insertion order
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := EncodeJSON(field.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := EncodeJSON(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeJSON produces compact JSON without HTML escaping
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Request is a prepared Bot API call ready to be handed to a session
type Request struct {
	Method string
	Data   Fields
	Files  map[string]InputFile

	// Timeout overrides the session timeout when it is longer
	Timeout time.Duration
}

// NewRequest creates an empty request for the named API method
func NewRequest(method string) *Request {
	return &Request{
		Method: method,
		Data:   Fields{},
		Files:  make(map[string]InputFile),
	}
}

// Set adds a data parameter. File values are moved to the upload set.
func (r *Request) Set(key string, value any) {
	if file, ok := value.(InputFile); ok {
		r.Attach(key, file)
		return
	}
	r.Data.Set(key, value)
}

// Attach registers a file upload under the given form field
func (r *Request) Attach(key string, file InputFile) {
	if r.Files == nil {
		r.Files = make(map[string]InputFile)
	}
	r.Files[key] = file
}

// HasFiles reports whether the request must be sent as multipart form data
func (r *Request) HasFiles() bool {
	return len(r.Files) > 0
}
