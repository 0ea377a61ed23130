package state

import (
	"fmt"
	"time"
)

// Kind identifies the concrete type carried by a Value.
type Kind int

// The closed set of value kinds a State entry may hold.
const (
	KindString Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindTime
	KindBytes
	KindList
	KindMap
)

// String returns the kind's name, used in error messages and JSON tags.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar and composite types State entries
// may hold. Exactly one field is meaningful, selected by Kind; List and Map
// hold nested Values so state can represent arbitrary JSON-like structure.
type Value struct {
	Kind Kind

	str   string
	i64   int64
	f64   float64
	b     bool
	t     time.Time
	bytes []byte
	list  []Value
	m     map[string]Value
}

// String wraps a string scalar.
func String(v string) Value { return Value{Kind: KindString, str: v} }

// Int64 wraps an integer scalar.
func Int64(v int64) Value { return Value{Kind: KindInt64, i64: v} }

// Float64 wraps a floating-point scalar.
func Float64(v float64) Value { return Value{Kind: KindFloat64, f64: v} }

// Bool wraps a boolean scalar.
func Bool(v bool) Value { return Value{Kind: KindBool, b: v} }

// Time wraps a timestamp.
func Time(v time.Time) Value { return Value{Kind: KindTime, t: v} }

// Bytes wraps a binary blob. The slice is not copied; callers must not
// mutate it after wrapping.
func Bytes(v []byte) Value { return Value{Kind: KindBytes, bytes: v} }

// List wraps an ordered list of Values.
func List(v ...Value) Value { return Value{Kind: KindList, list: v} }

// Map wraps a nested, string-keyed map of Values.
func Map(v map[string]Value) Value {
	if v == nil {
		v = map[string]Value{}
	}
	return Value{Kind: KindMap, m: v}
}

// FromAny wraps an arbitrary Go value (typically decoded JSON) into a
// Value, the inverse of Raw for the JSON-representable subset. Integral
// float64s stay floats; callers wanting int64 semantics should wrap
// explicitly.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return String(""), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int64(int64(t)), nil
	case int64:
		return Int64(t), nil
	case float64:
		return Float64(t), nil
	case time.Time:
		return Time(t), nil
	case []byte:
		return Bytes(t), nil
	case Value:
		return t, nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("state: cannot wrap %T", v)
	}
}

// Raw returns the value's underlying Go representation, useful for
// generic code (serialization, logging) that doesn't care about the kind.
func (v Value) Raw() any {
	switch v.Kind {
	case KindString:
		return v.str
	case KindInt64:
		return v.i64
	case KindFloat64:
		return v.f64
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindBytes:
		return v.bytes
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Raw()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Raw()
		}
		return out
	default:
		return nil
	}
}

// As extracts a typed value of T from v, failing if the wrapped Kind does
// not match T. It is the mechanism behind the package-level generic Get/TryGet.
func As[T any](v Value) (T, error) {
	var zero T
	var raw any

	switch any(zero).(type) {
	case string:
		if v.Kind != KindString {
			return zero, fmt.Errorf("state: value is %s, not string", v.Kind)
		}
		raw = v.str
	case int64:
		if v.Kind != KindInt64 {
			return zero, fmt.Errorf("state: value is %s, not int64", v.Kind)
		}
		raw = v.i64
	case float64:
		if v.Kind != KindFloat64 {
			return zero, fmt.Errorf("state: value is %s, not float64", v.Kind)
		}
		raw = v.f64
	case bool:
		if v.Kind != KindBool {
			return zero, fmt.Errorf("state: value is %s, not bool", v.Kind)
		}
		raw = v.b
	case time.Time:
		if v.Kind != KindTime {
			return zero, fmt.Errorf("state: value is %s, not time", v.Kind)
		}
		raw = v.t
	case []byte:
		if v.Kind != KindBytes {
			return zero, fmt.Errorf("state: value is %s, not bytes", v.Kind)
		}
		raw = v.bytes
	case []Value:
		if v.Kind != KindList {
			return zero, fmt.Errorf("state: value is %s, not list", v.Kind)
		}
		raw = v.list
	case map[string]Value:
		if v.Kind != KindMap {
			return zero, fmt.Errorf("state: value is %s, not map", v.Kind)
		}
		raw = v.m
	default:
		return zero, fmt.Errorf("state: unsupported type %T", zero)
	}

	t, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("state: cannot convert %s to %T", v.Kind, zero)
	}
	return t, nil
}

// Equal reports whether two Values are deeply equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.str == o.str
	case KindInt64:
		return v.i64 == o.i64
	case KindFloat64:
		return v.f64 == o.f64
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	case KindBytes:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, e := range v.m {
			oe, ok := o.m[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
