package description

import (
	"bytes"
	"encoding/json"
)

type FieldState uint8

const (
	FieldAbsent FieldState = iota
	FieldPresent
	FieldModified
)

func (s FieldState) String() string {
	switch s {
	case FieldPresent:
		return "present"
	case FieldModified:
		return "modified"
	default:
		return "absent"
	}
}

// Field is an optional value that remembers whether it was modified since
// the last reconciliation. The zero Field is absent.
type Field[T any] struct {
	value T
	state FieldState
}

// Some returns a present, unmodified field.
func Some[T any](v T) Field[T] {
	return Field[T]{value: v, state: FieldPresent}
}

// Changed returns a present field flagged as modified.
func Changed[T any](v T) Field[T] {
	return Field[T]{value: v, state: FieldModified}
}

func (f Field[T]) State() FieldState { return f.state }
func (f Field[T]) IsPresent() bool   { return f.state != FieldAbsent }
func (f Field[T]) IsModified() bool  { return f.state == FieldModified }

// IsZero reports whether the field is absent. It makes `omitzero` drop
// absent fields when encoding.
func (f Field[T]) IsZero() bool { return f.state == FieldAbsent }

func (f Field[T]) Get() (T, bool) {
	return f.value, f.state != FieldAbsent
}

// Value returns the stored value, or the zero value when absent.
func (f Field[T]) Value() T { return f.value }

func (f Field[T]) ValueOr(def T) T {
	if f.state == FieldAbsent {
		return def
	}
	return f.value
}

// Set stores v and marks the field modified.
func (f *Field[T]) Set(v T) {
	f.value = v
	f.state = FieldModified
}

// Init stores v without marking the field modified.
func (f *Field[T]) Init(v T) {
	f.value = v
	f.state = FieldPresent
}

// Reset makes the field absent again.
func (f *Field[T]) Reset() {
	var zero T
	f.value = zero
	f.state = FieldAbsent
}

// Touch flags a present field as modified without changing its value.
func (f *Field[T]) Touch() {
	if f.state != FieldAbsent {
		f.state = FieldModified
	}
}

func (f *Field[T]) ClearModified() {
	if f.state == FieldModified {
		f.state = FieldPresent
	}
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state == FieldAbsent {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON decodes a present, unmodified field; null decodes as absent.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.Reset()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.Init(v)
	return nil
}
