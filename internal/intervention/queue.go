package intervention

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type pendingRequest struct {
	req      Request
	decision chan Response
}

// QueueGateway parks requests until a reviewer resolves them by id.
type QueueGateway struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	now     func() time.Time
	logger  *zap.Logger
}

// NewQueueGateway creates an empty queue.
func NewQueueGateway(logger *zap.Logger) *QueueGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueGateway{
		pending: make(map[string]*pendingRequest),
		now:     time.Now,
		logger:  logger,
	}
}

// Request enqueues req and waits for Resolve or ctx. An abandoned request is
// removed from the queue and returned as rejected with ctx's error.
func (q *QueueGateway) Request(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = q.now().UTC()
	}
	p := &pendingRequest{req: req, decision: make(chan Response, 1)}

	q.mu.Lock()
	q.pending[req.ID] = p
	q.mu.Unlock()

	q.logger.Info("intervention requested",
		zap.String("intervention_id", req.ID),
		zap.String("type", string(req.Type)),
	)

	select {
	case resp := <-p.decision:
		return resp, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, req.ID)
		q.mu.Unlock()
		// Resolve may have won the race after ctx fired.
		select {
		case resp := <-p.decision:
			return resp, nil
		default:
		}
		q.logger.Warn("intervention abandoned",
			zap.String("intervention_id", req.ID),
			zap.Error(ctx.Err()),
		)
		return Reject("request abandoned"), ctx.Err()
	}
}

// Pending lists unresolved requests, oldest first.
func (q *QueueGateway) Pending() []Request {
	q.mu.Lock()
	out := make([]Request, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.req)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a pending request.
func (q *QueueGateway) Get(id string) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.req, nil
}

// Resolve delivers a decision to the waiting requester.
func (q *QueueGateway) Resolve(id string, resp Response) error {
	q.mu.Lock()
	p, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case p.decision <- resp:
	default:
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}

	q.logger.Info("intervention resolved",
		zap.String("intervention_id", id),
		zap.Bool("approved", resp.Approved),
	)
	return nil
}
