package offsync

import "errors"

var (
	// ErrInvalidKey means the key violates the charset/length rule.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidValue means the value is not JSON-serializable or exceeds
	// the configured size cap.
	ErrInvalidValue = errors.New("invalid value")

	// ErrStorage is a backend storage failure (quota, I/O). Not retried
	// automatically; the caller may retry.
	ErrStorage = errors.New("storage failure")

	// ErrNonPositiveDuration is returned by Timer.Start for durations <= 0.
	ErrNonPositiveDuration = errors.New("duration must be positive")
)
