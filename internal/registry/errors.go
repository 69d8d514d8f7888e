package registry

import (
	"errors"
	"fmt"
)

// Common errors for registry operations. Validation failures are reported
// as *place.ValidationError and lookup misses as place.ErrNotFound.
var (
	// ErrMissingFingerprint is returned when a write action arrives without
	// a client fingerprint.
	ErrMissingFingerprint = errors.New("missing X-Client-Fingerprint header")

	// ErrAlreadyUpvoted is returned when the dedupe marker for the
	// (place, fingerprint) pair already exists.
	ErrAlreadyUpvoted = errors.New("already upvoted from this fingerprint")
)

// RateLimitedError is returned when a fixed-window counter exceeds its
// configured limit.
type RateLimitedError struct {
	Action string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("Maximum %ss per hour exceeded", e.Action)
}
