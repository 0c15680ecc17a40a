package intervention

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitPending(t *testing.T, q *QueueGateway) Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p := q.Pending(); len(p) > 0 {
			return p[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no pending intervention")
	return Request{}
}

func TestStaticGateway(t *testing.T) {
	g := StaticGateway{Decision: Response{Approved: true, Updates: map[string]any{"agentId": "coder"}}}
	resp, err := g.Request(context.Background(), Request{Type: TypeRouting})
	if err != nil || !resp.Approved || resp.Updates["agentId"] != "coder" {
		t.Fatalf("unexpected %+v %v", resp, err)
	}
}

func TestQueueGateway_Resolve(t *testing.T) {
	q := NewQueueGateway(zap.NewNop())

	done := make(chan Response, 1)
	go func() {
		resp, _ := q.Request(context.Background(), Request{Type: TypeToolUsage, Payload: map[string]any{"tool_id": "shell"}})
		done <- resp
	}()

	req := waitPending(t, q)
	if req.ID == "" || req.Type != TypeToolUsage {
		t.Fatalf("unexpected pending request %+v", req)
	}
	if _, err := q.Get(req.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.Resolve(req.ID, Response{Approved: true}); err != nil {
		t.Fatal(err)
	}

	select {
	case resp := <-done:
		if !resp.Approved {
			t.Fatal("expected approval")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requester not released")
	}

	if len(q.Pending()) != 0 {
		t.Fatal("resolved request should leave the queue")
	}
	if err := q.Resolve(req.ID, Response{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueueGateway_ContextCancelled(t *testing.T) {
	q := NewQueueGateway(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		resp, err := q.Request(ctx, Request{Type: TypeHandoff})
		if resp.Approved {
			err = errors.New("abandoned request must not be approved")
		}
		errCh <- err
	}()

	waitPending(t, q)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(q.Pending()) != 0 {
		t.Fatal("abandoned request should leave the queue")
	}
}

func TestWithTimeout_RejectsOnDeadline(t *testing.T) {
	q := NewQueueGateway(zap.NewNop())
	g := WithTimeout(q, 20*time.Millisecond)

	resp, err := g.Request(context.Background(), Request{Type: TypeRouting})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if resp.Approved {
		t.Fatal("timeout must reject")
	}
}

func TestWithTimeout_IgnoringGateway(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := WithTimeout(GatewayFunc(func(context.Context, Request) (Response, error) {
		<-block
		return Response{Approved: true}, nil
	}), 20*time.Millisecond)

	resp, err := g.Request(context.Background(), Request{Type: TypeSafetyReview})
	if !errors.Is(err, ErrTimeout) || resp.Approved {
		t.Fatalf("expected rejected timeout, got %+v %v", resp, err)
	}
}

func TestWithTimeout_PassesDecision(t *testing.T) {
	g := WithTimeout(StaticGateway{Decision: Response{Approved: true}}, time.Second)
	resp, err := g.Request(context.Background(), Request{Type: TypeRouting})
	if err != nil || !resp.Approved {
		t.Fatalf("unexpected %+v %v", resp, err)
	}
}
