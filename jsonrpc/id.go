package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ID represents a JSON-RPC ID which must be either a string, a number, or null.
//
// IDs are chosen by the caller and are only meaningful inside the exchange
// that carried them. Nothing in this module uses an ID as a key into state
// that outlives a single HTTP request.
type ID struct {
	value any
}

// NullID is the ID used in error responses when the request ID could not be
// determined.
var NullID = ID{}

// NewID creates a JSON-RPC ID from a string or number
func NewID(id any) (ID, error) {
	switch v := id.(type) {
	case ID:
		return v, nil
	case string:
		return ID{value: v}, nil
	case int:
		return ID{value: int64(v)}, nil
	case int32:
		return ID{value: int64(v)}, nil
	case int64:
		return ID{value: v}, nil
	case float32:
		return fromFloat(float64(v)), nil
	case float64:
		return fromFloat(v), nil
	case nil:
		return NullID, nil
	default:
		return ID{}, fmt.Errorf("id must be string or number, got %T", id)
	}
}

// MustID is like NewID but panics on an unsupported type.
func MustID(id any) ID {
	v, err := NewID(id)
	if err != nil {
		panic(err)
	}
	return v
}

func fromFloat(f float64) ID {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ID{value: int64(f)}
	}
	return ID{value: f}
}

func (id ID) Value() any {
	return id.value
}

func (id ID) IsNil() bool {
	return id.value == nil
}

// Equal compares two IDs for equality
func (id ID) Equal(other any) bool {
	o, err := NewID(other)
	if err != nil {
		return false
	}
	return id.value == o.value
}

var _ fmt.GoStringer = ID{}

// GoString implements fmt.GoStringer
func (id ID) GoString() string {
	switch v := id.value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

var _ json.Marshaler = ID{}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

var _ json.Unmarshaler = &ID{}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		id.value = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		id.value = v
		return nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			id.value = i
			return nil
		}
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("invalid numeric id %q: %w", v, err)
		}
		*id = fromFloat(f)
		return nil
	default:
		return fmt.Errorf("id must be string or number, got %s", jsonKind(raw))
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case bool:
		return "boolean"
	default:
		return "value"
	}
}
