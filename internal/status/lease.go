package status

import (
	"context"
	"errors"
)

// ErrLeaseHeld means another invocation is already generating documents
// for the same request.
var ErrLeaseHeld = errors.New("request is already being processed")

// Leaser grants at most one in-flight run per request id. The returned
// release func must be called when the run ends.
type Leaser interface {
	Acquire(ctx context.Context, requestID string) (release func(context.Context) error, err error)
}
