package ports

import "errors"

// Store-level conditions that adapters translate their native errors into.
var (
	// ErrContention means a row lock could not be acquired in time, or the store
	// aborted the transaction to break a deadlock or serialization conflict. Retryable.
	ErrContention = errors.New("store contention")

	// ErrDuplicateKey means a unique key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)
