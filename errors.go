package notify

import (
	"errors"
)

// error taxonomy for the sync core. Causes are wrapped with `%w` so that
// `errors.Is` works across layers.
var (
	// handshake or connect acknowledgment exceeded its deadline.
	// retried with backoff, never fatal.
	ErrConnectionTimeout = errors.New("connection timeout")

	// mid-session channel or http failure. triggers reconnect.
	ErrTransport = errors.New("transport failed")

	// the remote call behind an optimistic operation failed.
	// surfaced exactly once, after rollback has been applied.
	ErrMutationFailed = errors.New("mutation failed")

	// a forced sync is already running. callers may retry.
	ErrSyncInProgress = errors.New("sync already in progress")

	// the referenced id is unknown. not retried.
	ErrNotFound = errors.New("not found")
)
