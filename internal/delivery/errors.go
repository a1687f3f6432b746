package delivery

import (
	"errors"
	"fmt"
)

// ErrDelivery is the sentinel matched by every DeliveryError.
var ErrDelivery = errors.New("recommendation delivery failed")

// DeliveryError reports a failed push to one sink.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: sink %s: %v", ErrDelivery, e.Sink, e.Err)
}

// Is makes errors.Is(err, ErrDelivery) match.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
