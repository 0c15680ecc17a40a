package api

import (
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
)

// ErrorResp is the body of every non-pipeline error.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// UserReq identifies the caller of a pipeline.
type UserReq struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (u UserReq) context() safety.UserContext {
	return safety.UserContext{
		UserID:         u.UserID,
		SessionID:      u.SessionID,
		ConversationID: u.ConversationID,
	}
}

// MessageReq is the JSON body for POST /v1/messages.
type MessageReq struct {
	Content string `json:"content"`
	UserReq
}

// InvokeToolReq is the JSON body for POST /v1/tools/{tool_id}/invoke.
type InvokeToolReq struct {
	Params map[string]any `json:"params"`
	UserReq
}

// HandoffReq is the JSON body for POST /v1/handoffs.
type HandoffReq struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	Message     string `json:"message"`
	UserReq
}

// ToolStateReq is the JSON body for POST /v1/tools/{tool_id}/state.
type ToolStateReq struct {
	State string `json:"state"` // AVAILABLE, DISABLED or REQUIRES_AUTH
}

// ResolveReq is the JSON body for POST /v1/interventions/{id}.
type ResolveReq struct {
	Approved bool           `json:"approved"`
	Updates  map[string]any `json:"updates,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// ActiveAgentResp is the body of GET /v1/conversations/{conversation_id}/agent.
type ActiveAgentResp struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}
