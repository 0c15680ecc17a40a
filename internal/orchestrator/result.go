package orchestrator

import (
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
)

// Result is what every pipeline returns. Failures carry Code and Reason;
// no pipeline returns an error or panics past its boundary.
type Result struct {
	Success   bool   `json:"success"`
	Code      Code   `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id"`

	AgentID string        `json:"agent_id,omitempty"`
	Route   *agents.Route `json:"route,omitempty"`
	Reply   *agents.Reply `json:"reply,omitempty"`

	ToolID    string             `json:"tool_id,omitempty"`
	Output    any                `json:"output,omitempty"`
	Execution *ExecutionMetadata `json:"execution,omitempty"`

	Risk       risk.Level         `json:"risk,omitempty"`
	Evaluation *safety.Evaluation `json:"evaluation,omitempty"`
}

// ExecutionMetadata describes a finished tool call.
type ExecutionMetadata struct {
	Started   time.Time     `json:"started"`
	Elapsed   time.Duration `json:"elapsed"`
	ElapsedMs int64         `json:"elapsed_ms"`
	PeakUsage ResourceUsage `json:"peak_usage"`
	Samples   int           `json:"samples"`
	Confirmed bool          `json:"confirmed"` // passed human review
}

func failure(requestID string, err *Error) Result {
	return Result{
		Success:   false,
		Code:      err.Code,
		Reason:    err.Reason,
		RequestID: requestID,
	}
}
