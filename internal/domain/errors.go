package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidJobType = errors.New("invalid job type")
	ErrInvalidConfig  = errors.New("invalid job config")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
	// ErrStaleAnalysis is returned when a smart-batch execute runs after
	// the queue changed underneath the cached analysis. Callers must
	// re-analyze; nothing is mutated.
	ErrStaleAnalysis = errors.New("queue changed since analysis, re-run analyze")
)
