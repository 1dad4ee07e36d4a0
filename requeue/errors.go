package requeue

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrRetrierRequired is returned when a Requeuer is built without a retrier
	ErrRetrierRequired = errors.New("retrier is required")
)
