package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
)

func TestProcessMessage_LowConfidenceRoutingOverride(t *testing.T) {
	h := newHarness(t)
	h.router.route = agents.Route{AgentID: "researcher", Confidence: 0.55, Reason: "weak match"}
	h.gateway.decide = func(intervention.Request) (intervention.Response, error) {
		return intervention.Response{Approved: true, Updates: map[string]any{"agentId": "coder"}}, nil
	}

	res := h.orch.ProcessMessage(context.Background(), "help me with this", user("u1"))

	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.Code, res.Reason)
	}
	if res.AgentID != "coder" {
		t.Fatalf("expected override to coder, got %s", res.AgentID)
	}
	calls := h.gateway.calls()
	if len(calls) != 1 || calls[0].Type != intervention.TypeRouting {
		t.Fatalf("expected one ROUTING intervention, got %+v", calls)
	}
	if calls[0].Payload["confidence"] != 0.55 {
		t.Fatalf("expected confidence in payload, got %+v", calls[0].Payload)
	}
	if hist := h.orch.History("coder"); len(hist) != 2 || hist[0].Kind != EntryMessage {
		t.Fatalf("expected message and reply in coder history, got %+v", hist)
	}
	if len(h.orch.History("researcher")) != 0 {
		t.Fatal("researcher should have no history")
	}
	if active, _ := h.orch.ActiveAgent("c-u1"); active != "coder" {
		t.Fatalf("expected coder active, got %q", active)
	}
}

func TestProcessMessage_HighConfidenceSkipsReview(t *testing.T) {
	h := newHarness(t)

	res := h.orch.ProcessMessage(context.Background(), "fix the bug", user("u1"))

	if !res.Success || res.AgentID != "coder" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Reply == nil || res.Reply.Text != "[code] fix the bug" {
		t.Fatalf("unexpected reply %+v", res.Reply)
	}
	if len(h.gateway.calls()) != 0 {
		t.Fatal("no intervention expected")
	}
	if h.events.count(events.ProcessingStart) != 1 || h.events.count(events.ProcessingComplete) != 1 {
		t.Fatal("expected processing start and complete events")
	}
}

func TestProcessMessage_RoutingRejected(t *testing.T) {
	h := newHarness(t)
	h.router.route = agents.Route{AgentID: "researcher", Confidence: 0.2}
	h.gateway.decide = func(intervention.Request) (intervention.Response, error) {
		return intervention.Reject("not sure"), nil
	}

	res := h.orch.ProcessMessage(context.Background(), "hmm", user("u1"))

	if res.Success || res.Code != CodeRoutingRejected {
		t.Fatalf("expected %s, got %+v", CodeRoutingRejected, res)
	}
	if len(h.orch.History("researcher")) != 0 {
		t.Fatal("rejected message must not be recorded")
	}
}

func TestProcessMessage_InterventionTimeout(t *testing.T) {
	h := newHarness(t)
	h.router.route = agents.Route{AgentID: "researcher", Confidence: 0.2}
	h.gateway.decide = func(intervention.Request) (intervention.Response, error) {
		return intervention.Reject("no decision"), intervention.ErrTimeout
	}

	res := h.orch.ProcessMessage(context.Background(), "hmm", user("u1"))

	if res.Code != CodeInterventionTimeout {
		t.Fatalf("expected %s, got %+v", CodeInterventionTimeout, res)
	}
}

func TestProcessMessage_UnsafeContent(t *testing.T) {
	h := newHarness(t)

	res := h.orch.ProcessMessage(context.Background(), "danger zone", user("u1"))

	if res.Success || res.Code != CodeSafetyRejected {
		t.Fatalf("expected %s, got %+v", CodeSafetyRejected, res)
	}
	if res.Evaluation == nil || res.Evaluation.Level != safety.LevelUnsafe {
		t.Fatalf("expected UNSAFE evaluation, got %+v", res.Evaluation)
	}
	if h.router.called != 0 {
		t.Fatal("router must not run after a safety rejection")
	}
	if h.events.count(events.SafetyViolation) != 1 {
		t.Fatal("expected a safety-violation event")
	}
}

func TestProcessMessage_WarningProceeds(t *testing.T) {
	h := newHarness(t)

	res := h.orch.ProcessMessage(context.Background(), "please review-me", user("u1"))

	if !res.Success {
		t.Fatalf("WARNING content should proceed, got %+v", res)
	}
}

type failingProcessor struct{ panic bool }

func (p failingProcessor) Process(context.Context, agents.Descriptor, agents.Request) (agents.Reply, error) {
	if p.panic {
		panic("agent crashed")
	}
	return agents.Reply{}, errors.New("agent down")
}

func TestProcessMessage_ProcessorError(t *testing.T) {
	h := newHarness(t, withProcessor(failingProcessor{}))

	res := h.orch.ProcessMessage(context.Background(), "fix the bug", user("u1"))

	if res.Code != CodeInternal || res.AgentID != "coder" {
		t.Fatalf("expected INTERNAL_ERROR for coder, got %+v", res)
	}
}

func TestProcessMessage_PanicBecomesInternalError(t *testing.T) {
	h := newHarness(t, withProcessor(failingProcessor{panic: true}))

	res := h.orch.ProcessMessage(context.Background(), "fix the bug", user("u1"))

	if res.Success || res.Code != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %+v", res)
	}
	if res.RequestID == "" {
		t.Fatal("expected request id on recovered result")
	}
	if h.events.count(events.ProcessingComplete) != 1 {
		t.Fatal("processing-complete must still be published")
	}
}

func TestApplyRouteOverrides(t *testing.T) {
	r := applyRouteOverrides(agents.Route{AgentID: "a", Confidence: 0.3}, map[string]any{"agent_id": "b", "confidence": 0.9})
	if r.AgentID != "b" || r.Confidence != 0.9 {
		t.Fatalf("unexpected route %+v", r)
	}
	r = applyRouteOverrides(agents.Route{AgentID: "a"}, nil)
	if r.AgentID != "a" {
		t.Fatalf("unexpected route %+v", r)
	}
}
