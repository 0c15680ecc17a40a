// Package storage persists orchestration events.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
)

// EventWriter persists orchestration events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *OrchestrationEvent)
	Close()
}

// OrchestrationEvent is the flattened, persisted form of an events.Event.
type OrchestrationEvent struct {
	EventID        string    `json:"event_id"`
	Name           string    `json:"name"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	ToolID         string    `json:"tool_id,omitempty"`
	Code           string    `json:"code,omitempty"` // failure code, empty on success
	DurationMs     float32   `json:"duration_ms,omitempty"`
	PayloadJSON    string    `json:"payload_json"`
}

// FromEvent flattens e. Well-known payload keys ("code", "duration_ms") are
// lifted into columns; the whole payload is kept as JSON.
func FromEvent(e events.Event) *OrchestrationEvent {
	oe := &OrchestrationEvent{
		EventID:        e.ID,
		Name:           string(e.Name),
		Timestamp:      e.Time,
		RequestID:      e.RequestID,
		UserID:         e.UserID,
		SessionID:      e.SessionID,
		ConversationID: e.ConversationID,
		AgentID:        e.AgentID,
		ToolID:         e.ToolID,
		PayloadJSON:    "{}",
	}
	if code, ok := e.Payload["code"].(string); ok {
		oe.Code = code
	}
	switch d := e.Payload["duration_ms"].(type) {
	case float64:
		oe.DurationMs = float32(d)
	case int64:
		oe.DurationMs = float32(d)
	case int:
		oe.DurationMs = float32(d)
	}
	if len(e.Payload) > 0 {
		if b, err := json.Marshal(e.Payload); err == nil {
			oe.PayloadJSON = string(b)
		}
	}
	return oe
}

// Subscribe attaches w to bus. The returned function detaches it.
func Subscribe(bus *events.Bus, w EventWriter) func() {
	return bus.Subscribe(func(_ context.Context, e events.Event) {
		w.Write(FromEvent(e))
	})
}
