// Package field provides an explicit presence-or-absence value type.
//
// Extraction treats a missing page element as a valid outcome, not an error,
// and the upsert diff logic must distinguish "this crawl did not see the
// field" (leave storage untouched) from "this crawl saw an empty value"
// (overwrite). A nil pointer cannot express that distinction for value types
// without allocation noise, so every optional attribute on a record is a
// field.Value.
package field

import "encoding/json"

// Value holds a T plus a presence flag. The zero Value is absent.
type Value[T any] struct {
	v   T
	set bool
}

// Of returns a present Value holding v.
func Of[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

// Get returns the held value and whether it is present.
func (f Value[T]) Get() (T, bool) {
	return f.v, f.set
}

// IsSet reports whether the value is present.
func (f Value[T]) IsSet() bool {
	return f.set
}

// Or returns the held value when present, otherwise def.
func (f Value[T]) Or(def T) T {
	if f.set {
		return f.v
	}
	return def
}

// MarshalJSON encodes a present value as its JSON form and an absent value
// as null. Combined with `omitempty`-free struct tags this makes absence
// visible in exported documents rather than silently dropped.
func (f Value[T]) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return json.Marshal(f.v)
}

// UnmarshalJSON decodes null as absent and anything else as present.
func (f *Value[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = Value[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Of(v)
	return nil
}
