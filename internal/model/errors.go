package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch is matched by every SchemaMismatchError.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrInsufficientSamples is returned when a fit gets fewer rows than required.
	ErrInsufficientSamples = errors.New("insufficient samples for fit")

	// ErrNotFitted is returned when exporting a model that was never fitted.
	ErrNotFitted = errors.New("model not fitted")
)

// SchemaMismatchError reports an input width that disagrees with the fitted scaler.
// It is fatal to the predict call only.
type SchemaMismatchError struct {
	Expected int
	Got      int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d features, got %d", ErrSchemaMismatch, e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrSchemaMismatch) match.
func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}
