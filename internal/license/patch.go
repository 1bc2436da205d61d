package license

import (
	"time"
)

// Field is a three-state optional value for selective updates: unset (leave
// the column untouched), null (clear the column), or a concrete value. A
// plain pointer cannot distinguish "absent" from "clear", which the optional
// license columns need.
type Field[T any] struct {
	set   bool
	null  bool
	value T
}

// Set returns a Field carrying a concrete value.
func Set[T any](v T) Field[T] {
	return Field[T]{set: true, value: v}
}

// Null returns a Field that clears the column.
func Null[T any]() Field[T] {
	return Field[T]{set: true, null: true}
}

// IsSet reports whether the field participates in the update at all.
func (f Field[T]) IsSet() bool { return f.set }

// IsNull reports whether the field clears the column.
func (f Field[T]) IsNull() bool { return f.set && f.null }

// Value returns the concrete value; meaningful only when IsSet and not
// IsNull.
func (f Field[T]) Value() T { return f.value }

// Patch describes a selective update of a license key. LicenseKey carries
// new plaintext; the manager recomputes Ciphertext and Hash from it as a
// pair, callers never set those two directly.
type Patch struct {
	LicenseKey        Field[string]
	Ciphertext        Field[string]
	Hash              Field[string]
	OrderID           Field[int64]
	ProductID         Field[int64]
	ValidFor          Field[int]
	ExpiresAt         Field[time.Time]
	Source            Field[Source]
	Status            Field[Status]
	TimesActivatedMax Field[int]
	UpdatedBy         Field[string]
}

// Empty reports whether the patch carries no updatable field.
func (p Patch) Empty() bool {
	return !p.LicenseKey.IsSet() &&
		!p.Ciphertext.IsSet() &&
		!p.Hash.IsSet() &&
		!p.OrderID.IsSet() &&
		!p.ProductID.IsSet() &&
		!p.ValidFor.IsSet() &&
		!p.ExpiresAt.IsSet() &&
		!p.Source.IsSet() &&
		!p.Status.IsSet() &&
		!p.TimesActivatedMax.IsSet() &&
		!p.UpdatedBy.IsSet()
}
