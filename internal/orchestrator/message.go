package orchestrator

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProcessMessage screens content, routes it to an agent (with review when
// routing confidence is low), records it in that agent's history and
// returns the agent's reply.
func (o *Orchestrator) ProcessMessage(ctx context.Context, content string, user safety.UserContext) (res Result) {
	requestID := newRequestID()
	seq := o.history.NextSeq()

	ctx, span := o.tracer.Start(ctx, "Orchestrator.ProcessMessage", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("user_id", user.UserID),
	))
	defer func() { endSpan(span, res) }()

	o.publish(ctx, events.ProcessingStart, requestID, user, nil)
	defer func() {
		o.publish(ctx, events.ProcessingComplete, requestID, user, func(e *events.Event) {
			e.AgentID = res.AgentID
			e.Payload = map[string]any{"success": res.Success, "code": string(res.Code)}
		})
	}()
	defer o.guard("message", requestID, &res)

	eval := o.classifier.Evaluate(ctx, content, user)
	if !eval.Safe {
		o.publish(ctx, events.SafetyViolation, requestID, user, func(e *events.Event) {
			e.Payload = map[string]any{
				"stage":     "message",
				"level":     eval.Level.String(),
				"risk":      eval.Risk.String(),
				"escalated": eval.Escalated,
			}
		})
		o.logger.Warn("message rejected by safety",
			zap.String("request_id", requestID),
			zap.String("user_id", user.UserID),
			zap.Int("findings", len(eval.Findings)),
			zap.Bool("escalated", eval.Escalated),
		)
		res = failure(requestID, newError(CodeSafetyRejected, "content failed safety evaluation", nil))
		res.Risk = eval.Risk
		res.Evaluation = &eval
		return res
	}

	route, err := o.router.Route(ctx, content)
	if err != nil {
		return failure(requestID, newError(CodeInternal, "routing failed", err))
	}
	span.SetAttributes(
		attribute.String("agent_id", route.AgentID),
		attribute.Float64("routing.confidence", route.Confidence),
	)

	if route.Confidence < o.threshold {
		resp, ierr := o.intervene(ctx, requestID, user, intervention.TypeRouting, map[string]any{
			"message":    content,
			"agentId":    route.AgentID,
			"confidence": route.Confidence,
			"reason":     route.Reason,
		}, CodeRoutingRejected)
		if ierr != nil {
			return failure(requestID, ierr)
		}
		route = applyRouteOverrides(route, resp.Updates)
	}

	agent, ok := o.agents.Get(route.AgentID)
	if !ok {
		return failure(requestID, newError(CodeInternal, fmt.Sprintf("routed to unknown agent %q", route.AgentID), nil))
	}

	o.history.Append(agent.ID, Entry{
		Seq:            seq,
		Kind:           EntryMessage,
		Time:           o.now().UTC(),
		RequestID:      requestID,
		UserID:         user.UserID,
		ConversationID: user.ConversationID,
		Content:        content,
	})

	reply, err := o.processor.Process(ctx, agent, agents.Request{
		Message:        content,
		UserID:         user.UserID,
		SessionID:      user.SessionID,
		ConversationID: user.ConversationID,
	})
	if err != nil {
		res = failure(requestID, newError(CodeInternal, "agent processing failed", err))
		res.AgentID = agent.ID
		return res
	}

	o.history.Append(agent.ID, Entry{
		Seq:            seq,
		Kind:           EntryReply,
		Time:           o.now().UTC(),
		RequestID:      requestID,
		UserID:         user.UserID,
		ConversationID: user.ConversationID,
		Content:        reply.Text,
	})
	o.setActive(user.ConversationID, agent.ID)

	return Result{
		Success:    true,
		RequestID:  requestID,
		AgentID:    agent.ID,
		Route:      &route,
		Reply:      &reply,
		Risk:       eval.Risk,
		Evaluation: &eval,
	}
}

// applyRouteOverrides applies reviewer updates to a routing decision.
// Both "agentId" and "agent_id" are accepted.
func applyRouteOverrides(route agents.Route, updates map[string]any) agents.Route {
	for _, key := range []string{"agentId", "agent_id"} {
		if id, ok := updates[key].(string); ok && id != "" {
			route.AgentID = id
			route.Reason = "reviewer override"
		}
	}
	if c, ok := updates["confidence"].(float64); ok {
		route.Confidence = c
	}
	return route
}
