package storage

import "errors"

// Storage sentinel errors. Integrity violations are reported as
// kerr.KindDataIntegrity by the backends; these sentinels cover plain
// lookup and key semantics.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned by append-only stores (sessions) on
	// key reuse. Bar/indicator stores upsert and never return it.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
