package services

import "errors"

// Domain errors surfaced to the API layer. Controllers map them onto the
// error codes of the HTTP contract; nothing below this package inspects HTTP.
var (
	ErrTaskAlreadyRunning   = errors.New("a matching task is already running")
	ErrInvalidMode          = errors.New("invalid task mode")
	ErrInvalidMatchStrategy = errors.New("invalid match strategy")
	ErrEmptyPrimary         = errors.New("primary source is empty")
	ErrUnknownTask          = errors.New("unknown task id")
	ErrTaskNotRunning       = errors.New("task is not running")
	ErrNotFound             = errors.New("record not found")
	ErrInvalidFilter        = errors.New("invalid list filter")
	ErrStaleReview          = errors.New("review conflicts with a concurrent update")
	ErrInvalidReviewStatus  = errors.New("invalid review status")
	ErrInvalidStrategy      = errors.New("invalid association strategy")
	ErrAggregationFailed    = errors.New("association aggregation failed")
)
