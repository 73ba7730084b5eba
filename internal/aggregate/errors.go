package aggregate

import (
	"errors"
	"fmt"
)

var (
	// ErrDataSource is returned when the log store cannot be read.
	ErrDataSource = errors.New("data source error")
	// ErrUpstreamLookup is returned when a usage lookup fails or times out.
	ErrUpstreamLookup = errors.New("upstream lookup error")
	// ErrPersistence is returned when the aggregated rows cannot be written.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidArgument is returned for malformed input such as a zero date.
	ErrInvalidArgument = errors.New("invalid argument")
)

// LookupError reports the conversation whose usage lookup aborted a run.
type LookupError struct {
	ConversationID string
	Err            error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("usage lookup for conversation %s: %v", e.ConversationID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *LookupError) Unwrap() error { return e.Err }

// Is lets callers match any lookup failure with errors.Is(err, ErrUpstreamLookup).
func (e *LookupError) Is(target error) bool { return target == ErrUpstreamLookup }
