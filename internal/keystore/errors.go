package keystore

import "errors"

var (
	// ErrNotFound is returned when no record matches a key.
	ErrNotFound = errors.New("access key not found")

	// ErrInactive is returned for keys that were revoked or lazily expired.
	ErrInactive = errors.New("access key is inactive")

	// ErrExpired is returned the first time an active key is seen past its expiry.
	ErrExpired = errors.New("access key is expired")

	// ErrDuplicateKey is returned by repositories when an insert violates the
	// unique index on key.
	ErrDuplicateKey = errors.New("duplicate access key")

	// ErrKeyGenerationExhausted is returned when every generated token collided.
	ErrKeyGenerationExhausted = errors.New("could not generate a unique access key")

	ErrInvalidName     = errors.New("key name is required")
	ErrInvalidDuration = errors.New("key duration must be between 0 and 36500 days")
)
