package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for messages that are not valid telemetry.
	ErrMalformed = errors.New("malformed telemetry message")

	// ErrIgnored is returned for well-formed messages of a type that carries
	// no telemetry (heartbeats, status pings, suggestion requests).
	ErrIgnored = errors.New("message type carries no telemetry")
)

// MalformedError describes why a message was rejected.
type MalformedError struct {
	Type   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: %s", ErrMalformed, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrMalformed, e.Type, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) match.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}
