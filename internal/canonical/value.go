// Package canonical implements the deterministic encoding used as hash input
// for ledger entries.
//
// Payloads are modelled as a sealed Value sum type (Null, Bool, Number,
// String, Array, Object). Encode renders a Value as whitespace-free JSON with
// object keys sorted by UTF-16 code units, so two semantically equal values
// always produce identical bytes regardless of key insertion order.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Value is a structured payload value. Only the types in this package
// implement it.
type Value interface {
	canonicalValue()
}

// Null is the JSON null.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number. Numbers are IEEE-754 doubles, matching what
// browser and plugin-side JSON encoders produce.
type Number float64

// String is a JSON string.
type String string

// Array is an ordered sequence of values.
type Array []Value

// Object maps string keys to values. Iteration order is irrelevant; Encode
// sorts keys.
type Object map[string]Value

func (Null) canonicalValue()   {}
func (Bool) canonicalValue()   {}
func (Number) canonicalValue() {}
func (String) canonicalValue() {}
func (Array) canonicalValue()  {}
func (Object) canonicalValue() {}

// MarshalJSON renders null.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// MarshalJSON renders the array in canonical form.
func (a Array) MarshalJSON() ([]byte, error) { return Encode(a) }

// MarshalJSON renders the object in canonical form.
func (o Object) MarshalJSON() ([]byte, error) { return Encode(o) }

// Get returns the value stored under key.
func (o Object) Get(key string) (Value, bool) {
	v, ok := o[key]
	return v, ok
}

// StringField returns the string stored under key. ok is false when the key
// is absent or holds a non-string value.
func (o Object) StringField(key string) (string, bool) {
	v, ok := o[key].(String)
	return string(v), ok
}

// Empty reports whether v is absent or one of the JSON falsy values: null,
// false, 0 or "". Arrays and objects are never empty, even with no elements.
func Empty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case Bool:
		return !bool(val)
	case Number:
		return val == 0
	case String:
		return val == ""
	default:
		return false
	}
}

// Parse decodes JSON text into a Value. Numbers are decoded as doubles.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode payload: trailing data after JSON value")
	}
	return FromAny(raw)
}

// FromAny converts a Go value built from JSON-compatible types into a Value.
// Supported inputs are nil, bool, string, the integer and float kinds,
// json.Number, slices and string-keyed maps of supported inputs, and Values.
func FromAny(v any) (Value, error) {
	return fromAny(v, 0)
}

// maxDepth bounds recursion so cyclic inputs fail instead of overflowing.
const maxDepth = 512

func fromAny(v any, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}

	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return convertValue(val, depth)
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", val.String(), err)
		}
		return number(f)
	case float64:
		return number(val)
	case float32:
		return number(float64(val))
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case uint:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case uint32:
		return Number(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			cv, err := fromAny(elem, depth+1)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := fromAny(elem, depth+1)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = cv
		}
		return obj, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, s := range val {
			obj[k] = String(s)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %s", reflect.TypeOf(v))
	}
}

// convertValue walks an existing Value so the depth bound also applies to
// Values assembled by hand.
func convertValue(v Value, depth int) (Value, error) {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			cv, err := fromAny(elem, depth+1)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			cv, err := fromAny(elem, depth+1)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			out[k] = cv
		}
		return out, nil
	case Number:
		return number(float64(val))
	default:
		return v, nil
	}
}

func number(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number %v is not representable in JSON", f)
	}
	return Number(f), nil
}
