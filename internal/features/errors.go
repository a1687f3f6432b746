package features

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel matched by every ValidationError.
var ErrValidation = errors.New("telemetry validation failed")

// ValidationError reports an empty or ill-formed telemetry batch.
// Callers skip the batch and continue with the next one.
type ValidationError struct {
	Reason  string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: %s: missing required fields %v", ErrValidation, e.Reason, e.Missing)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
