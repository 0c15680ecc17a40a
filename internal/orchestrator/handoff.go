package orchestrator

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// privilegedCapabilities are capabilities whose gain on handoff is HIGH risk.
var privilegedCapabilities = []string{"system", "code_execution", "database", "file_write"}

// HandoffRisk rates transferring a conversation from one agent to another:
// HIGH when the destination gains a privileged capability the source lacks
// or either agent is itself HIGH risk, LOW when the destination's
// capabilities are a subset of the source's, MEDIUM otherwise.
func HandoffRisk(from, to agents.Descriptor) risk.Level {
	if from.RiskHint == risk.High || to.RiskHint == risk.High {
		return risk.High
	}
	for _, c := range privilegedCapabilities {
		if to.Has(c) && !from.Has(c) {
			return risk.High
		}
	}
	for _, c := range to.Capabilities {
		if !from.Has(c) {
			return risk.Medium
		}
	}
	return risk.Low
}

// Handoff moves a conversation from one agent to another. Unknown agents
// fail with HANDOFF_INVALID_AGENT before any state changes; HIGH risk
// handoffs need reviewer approval.
func (o *Orchestrator) Handoff(ctx context.Context, fromID, toID, message string, user safety.UserContext) (res Result) {
	requestID := newRequestID()

	ctx, span := o.tracer.Start(ctx, "Orchestrator.Handoff", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("from_agent_id", fromID),
		attribute.String("to_agent_id", toID),
	))
	defer func() { endSpan(span, res) }()
	defer o.guard("handoff", requestID, &res)

	from, ok := o.agents.Get(fromID)
	if !ok {
		return failure(requestID, newError(CodeHandoffInvalidAgent, fmt.Sprintf("unknown source agent %q", fromID), nil))
	}
	to, ok := o.agents.Get(toID)
	if !ok {
		return failure(requestID, newError(CodeHandoffInvalidAgent, fmt.Sprintf("unknown destination agent %q", toID), nil))
	}
	seq := o.history.NextSeq()

	level := HandoffRisk(from, to)
	span.SetAttributes(attribute.String("handoff.risk", level.String()))

	if level == risk.High {
		_, ierr := o.intervene(ctx, requestID, user, intervention.TypeHandoff, map[string]any{
			"from_agent_id": from.ID,
			"to_agent_id":   to.ID,
			"message":       message,
			"risk":          level.String(),
		}, CodeHandoffRejected)
		if ierr != nil {
			r := failure(requestID, ierr)
			r.Risk = level
			return r
		}
	}

	if o.handoffer != nil {
		err := o.handoffer.Handoff(ctx, from, to, agents.Request{
			Message:        message,
			UserID:         user.UserID,
			SessionID:      user.SessionID,
			ConversationID: user.ConversationID,
		})
		if err != nil {
			return failure(requestID, newError(CodeInternal, "handoff delivery failed", err))
		}
	}

	o.setActive(user.ConversationID, to.ID)
	o.history.Append(to.ID, Entry{
		Seq:            seq,
		Kind:           EntryHandoff,
		Time:           o.now().UTC(),
		RequestID:      requestID,
		UserID:         user.UserID,
		ConversationID: user.ConversationID,
		FromAgentID:    from.ID,
		Content:        message,
	})

	o.publish(ctx, events.HandoffComplete, requestID, user, func(e *events.Event) {
		e.AgentID = to.ID
		e.Payload = map[string]any{"from_agent_id": from.ID, "risk": level.String()}
	})
	o.logger.Info("handoff complete",
		zap.String("request_id", requestID),
		zap.String("from_agent_id", from.ID),
		zap.String("to_agent_id", to.ID),
		zap.String("risk", level.String()),
	)

	return Result{
		Success:   true,
		RequestID: requestID,
		AgentID:   to.ID,
		Risk:      level,
	}
}
