// Package intervention is the boundary to human reviewers. The orchestrator
// blocks on a Gateway until a reviewer approves or rejects a risky action.
package intervention

import (
	"context"
	"errors"
	"time"
)

// Type is the kind of action awaiting review.
type Type string

const (
	TypeRouting      Type = "ROUTING"
	TypeToolUsage    Type = "TOOL_USAGE"
	TypeHandoff      Type = "HANDOFF"
	TypeSafetyReview Type = "SAFETY_REVIEW"
)

var (
	ErrTimeout         = errors.New("intervention timed out")
	ErrNotFound        = errors.New("intervention not found")
	ErrAlreadyResolved = errors.New("intervention already resolved")
)

// Request is one pending decision.
type Request struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Response is a reviewer's decision. Updates override fields of the gated
// action on approval (e.g. {"agentId": "coder"} for ROUTING).
type Response struct {
	Approved bool           `json:"approved"`
	Updates  map[string]any `json:"updates,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Reject is the safe default decision.
func Reject(reason string) Response {
	return Response{Approved: false, Reason: reason}
}

// Gateway resolves intervention requests. Request blocks until a decision
// exists or ctx is done.
type Gateway interface {
	Request(ctx context.Context, req Request) (Response, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) (Response, error)

func (f GatewayFunc) Request(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// StaticGateway returns a fixed decision for every request.
type StaticGateway struct {
	Decision Response
}

// Request returns the configured decision.
func (g StaticGateway) Request(_ context.Context, _ Request) (Response, error) {
	return g.Decision, nil
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every request on next. A request that outlives timeout
// resolves as rejected with ErrTimeout, and next sees its context cancelled.
func WithTimeout(next Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 {
		return next
	}
	return &timeoutGateway{next: next, timeout: timeout}
}

type result struct {
	resp Response
	err  error
}

func (g *timeoutGateway) Request(ctx context.Context, req Request) (Response, error) {
	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		resp, err := g.next.Request(tctx, req)
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return Reject("no decision before deadline"), ErrTimeout
		}
		return r.resp, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return Reject("request cancelled"), ctx.Err()
		}
		return Reject("no decision before deadline"), ErrTimeout
	}
}
