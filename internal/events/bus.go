// Package events is the in-process publish/subscribe channel the orchestrator
// reports lifecycle events on. Subscribers are metrics, logging and storage.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Name identifies an event kind.
type Name string

const (
	ProcessingStart       Name = "processing-start"
	ProcessingComplete    Name = "processing-complete"
	ToolExecutionStart    Name = "tool-execution-start"
	ToolExecutionComplete Name = "tool-execution-complete"
	ToolExecutionError    Name = "tool-execution-error"
	ToolExecutionCleanup  Name = "tool-execution-cleanup"
	SafetyViolation       Name = "safety-violation"
	InterventionRequested Name = "intervention-requested"
	InterventionResolved  Name = "intervention-resolved"
	HandoffComplete       Name = "handoff-complete"
)

// Event is a single published occurrence. ID and Time are filled on publish
// when empty.
type Event struct {
	ID             string         `json:"id"`
	Name           Name           `json:"name"`
	Time           time.Time      `json:"time"`
	RequestID      string         `json:"request_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	ToolID         string         `json:"tool_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Publisher accepts events. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Handler consumes events. Handlers run on the publisher's goroutine and
// must hand off anything slow.
type Handler func(ctx context.Context, e Event)

type subscription struct {
	id int
	h  Handler
}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	now    func() time.Time
	logger *zap.Logger
}

// NewBus creates a bus with no subscribers.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{now: time.Now, logger: logger}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to every subscriber. A panicking handler is logged and
// does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s.h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", string(e.Name)),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, e)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
