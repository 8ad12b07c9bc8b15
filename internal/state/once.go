package state

import (
	"encoding/json"

	"PLPLedger/internal/errs"
)

// Once holds a value that may be assigned exactly once. The only legal
// transition is Unset -> Set.
type Once[T any] struct {
	value T
	set   bool
}

// Get returns the value and whether it has been set.
func (o Once[T]) Get() (T, bool) {
	return o.value, o.set
}

// Value returns the value, or the zero value if unset.
func (o Once[T]) Value() T {
	return o.value
}

func (o Once[T]) IsSet() bool {
	return o.set
}

// Set assigns v. A second assignment fails with InvalidState naming field.
func (o *Once[T]) Set(field string, v T) error {
	if o.set {
		return errs.InvalidState(field, "already set")
	}
	o.value = v
	o.set = true
	return nil
}

// MarshalJSON encodes an unset value as null.
func (o Once[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Once[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		var zero T
		o.value, o.set = zero, false
		return nil
	}
	if err := json.Unmarshal(b, &o.value); err != nil {
		return err
	}
	o.set = true
	return nil
}
