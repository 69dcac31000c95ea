package artifacts

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled indicates the caller cancelled an update. It is reported as
	// OutcomeCancelled rather than returned.
	ErrCancelled = errors.New("update cancelled")

	// ErrRemoteRegressed indicates the remote index is older than the local one
	ErrRemoteRegressed = errors.New("remote index timestamp is older than local")

	// ErrChunkOutOfOrder indicates a chunk that would move the timestamp backwards
	ErrChunkOutOfOrder = errors.New("chunk applied out of order")

	// ErrStaleGeneration indicates a publish that does not follow the current generation
	ErrStaleGeneration = errors.New("stale generation")

	// ErrPoolClosed indicates a publish to a closed searcher pool
	ErrPoolClosed = errors.New("searcher pool closed")

	// ErrInvalidExpression indicates a malformed search expression
	ErrInvalidExpression = errors.New("invalid search expression")

	// ErrServiceClosed indicates use of a closed service
	ErrServiceClosed = errors.New("service closed")

	// ErrUnknownContext indicates a context name that is not configured
	ErrUnknownContext = errors.New("unknown index context")

	// ErrCorruptStore indicates local index state that cannot be trusted
	ErrCorruptStore = errors.New("corrupt local index store")
)

// GapError reports a missing or inconsistent chunk in the sequence required
// for an incremental update. The next attempt on the context is a full update.
type GapError struct {
	Counter int
	Err     error
}

func (e *GapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gap in chunk sequence at counter %d: %v", e.Counter, e.Err)
	}
	return fmt.Sprintf("gap in chunk sequence at counter %d", e.Counter)
}

func (e *GapError) Unwrap() error {
	return e.Err
}

// IsGapError reports whether err is or wraps a *GapError.
func IsGapError(err error) bool {
	var ge *GapError
	return errors.As(err, &ge)
}
