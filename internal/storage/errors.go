package storage

import "errors"

var (
	// ErrDimensionMismatch means vectors and index disagree on size. Fatal at startup.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCorruptIndex marks persisted index files that cannot be trusted.
	ErrCorruptIndex = errors.New("corrupt index files")

	// ErrBackendUnavailable wraps timeouts, 5xx responses and connection failures.
	ErrBackendUnavailable = errors.New("backend temporarily unavailable")

	ErrCollectionNotFound = errors.New("collection not found")

	// ErrNotConfigured is returned when an explicitly requested backend lacks credentials.
	ErrNotConfigured = errors.New("backend not configured")

	ErrProjectStore = errors.New("project store unavailable")
)
