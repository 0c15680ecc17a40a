package safety

import (
	"context"
)

// Check is the interface every safety check must implement.
// Implementations must respect context deadlines and return quickly.
type Check interface {
	// Name returns the check's unique identifier (e.g., "pattern").
	Name() string

	// Detect runs the check against the request and returns its findings.
	// Must respect ctx deadline. Return early if ctx is cancelled.
	Detect(ctx context.Context, req *CheckRequest) ([]Finding, error)
}

// CheckRequest contains the content and user context for a check run.
type CheckRequest struct {
	Content string
	User    UserContext
}
