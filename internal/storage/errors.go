package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Artifact stores never overwrite a pair.
	ErrDuplicateKey = errors.New("duplicate key: artifacts are write-once")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIncompletePair is returned when only one half of a model/scaler
	// pair exists for a timestamp.
	ErrIncompletePair = errors.New("incomplete artifact pair")
)
