package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/orchestrator"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety/checks"
	"github.com/triage-ai/palisade/services/orchestrator/internal/tools"
	"go.uber.org/zap"
)

type stubInvoker struct{}

func (stubInvoker) Invoke(_ context.Context, _ tools.Descriptor, params map[string]any) (any, error) {
	return map[string]any{"echo": params["expression"]}, nil
}

func newTestDeps(t *testing.T, queue *intervention.QueueGateway) *Dependencies {
	t.Helper()
	logger := zap.NewNop()

	registry := tools.NewRegistry(logger)
	err := registry.Register(tools.Descriptor{
		ID:       "calculator",
		Name:     "calculator",
		Category: tools.CategoryAnalysis,
		Risk:     risk.Low,
		Required: []string{"expression"},
	})
	if err != nil {
		t.Fatal(err)
	}

	catalog, err := agents.NewCatalog(agents.DefaultAgents())
	if err != nil {
		t.Fatal(err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Classifier: safety.NewClassifier(safety.Config{
			Checks:       []safety.Check{checks.NewPatternCheck()},
			CheckTimeout: time.Second,
			Tools:        registry,
			Logger:       logger,
		}),
		Tools:     registry,
		Agents:    catalog,
		Router:    agents.NewKeywordRouter(catalog),
		Processor: agents.EchoProcessor{},
		Handoffer: agents.EchoProcessor{},
		Invoker:   stubInvoker{},
		Gateway:   intervention.StaticGateway{Decision: intervention.Response{Approved: true}},
		Events:    events.NewBus(logger),
		Logger:    logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &Dependencies{
		Orchestrator: orch,
		Tools:        registry,
		Agents:       catalog,
		Queue:        queue,
		Logger:       logger,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) orchestrator.Result {
	t.Helper()
	var res orchestrator.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res
}

func TestHealthz(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))
	rec := do(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMessage_RoutesAndRecordsHistory(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))

	rec := do(t, h, http.MethodPost, "/v1/messages", MessageReq{
		Content: "please find research information",
		UserReq: UserReq{UserID: "u1", ConversationID: "c1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	res := decodeResult(t, rec)
	if !res.Success || res.AgentID != "researcher" {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = do(t, h, http.MethodGet, "/v1/agents/researcher/history", nil)
	var hist struct {
		Entries []orchestrator.Entry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Entries) != 2 {
		t.Fatalf("expected message and reply in history, got %+v", hist.Entries)
	}

	rec = do(t, h, http.MethodGet, "/v1/conversations/c1/agent", nil)
	var active ActiveAgentResp
	_ = json.NewDecoder(rec.Body).Decode(&active)
	if active.AgentID != "researcher" {
		t.Fatalf("expected researcher active, got %+v", active)
	}
}

func TestMessage_BadRequests(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))

	if rec := do(t, h, http.MethodPost, "/v1/messages", MessageReq{UserReq: UserReq{UserID: "u1"}}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing content: expected 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/messages", MessageReq{Content: "hi"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", rec.Code)
	}
}

func TestMessage_UnsafeIsForbidden(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))

	rec := do(t, h, http.MethodPost, "/v1/messages", MessageReq{
		Content: "rm -rf /",
		UserReq: UserReq{UserID: "u1"},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); res.Code != orchestrator.CodeSafetyRejected {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInvokeTool(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))

	rec := do(t, h, http.MethodPost, "/v1/tools/calculator/invoke", InvokeToolReq{
		Params:  map[string]any{"expression": "2+2"},
		UserReq: UserReq{UserID: "u1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if res := decodeResult(t, rec); !res.Success || res.ToolID != "calculator" || res.Execution == nil {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = do(t, h, http.MethodPost, "/v1/tools/ghost/invoke", InvokeToolReq{UserReq: UserReq{UserID: "u1"}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown tool: expected 422, got %d", rec.Code)
	}
}

func TestToolState(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))

	rec := do(t, h, http.MethodPost, "/v1/tools/calculator/state", ToolStateReq{State: "DISABLED"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/v1/tools/calculator/invoke", InvokeToolReq{
		Params:  map[string]any{"expression": "1"},
		UserReq: UserReq{UserID: "u1"},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("disabled tool: expected 409, got %d", rec.Code)
	}

	if rec := do(t, h, http.MethodPost, "/v1/tools/calculator/state", ToolStateReq{State: "AVAILABLE"}); rec.Code != http.StatusOK {
		t.Fatalf("enable: expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/tools/calculator/state", ToolStateReq{State: "AVAILABLE"}); rec.Code != http.StatusConflict {
		t.Fatalf("enable twice: expected 409, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/tools/calculator/state", ToolStateReq{State: "IN_USE"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("IN_USE: expected 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/tools/ghost/state", ToolStateReq{State: "DISABLED"}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tool: expected 404, got %d", rec.Code)
	}
}

func TestListAndGetTools(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))

	rec := do(t, h, http.MethodGet, "/v1/tools", nil)
	var body struct {
		Tools []json.RawMessage `json:"tools"`
		Stats tools.Stats       `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tools) != 1 || body.Stats.Tools != 1 {
		t.Fatalf("unexpected listing %+v", body)
	}

	if rec := do(t, h, http.MethodGet, "/v1/tools/calculator", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/tools/ghost", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandoff(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))

	rec := do(t, h, http.MethodPost, "/v1/handoffs", HandoffReq{
		FromAgentID: "coordinator",
		ToAgentID:   "ghost",
		UserReq:     UserReq{UserID: "u1"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/v1/handoffs", HandoffReq{
		FromAgentID: "coordinator",
		ToAgentID:   "researcher",
		Message:     "look it up",
		UserReq:     UserReq{UserID: "u1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	if rec := do(t, h, http.MethodGet, "/v1/agents/ghost/history", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown agent history: expected 404, got %d", rec.Code)
	}
}

func TestInterventions_Disabled(t *testing.T) {
	h := NewRouter(newTestDeps(t, nil))
	if rec := do(t, h, http.MethodGet, "/v1/interventions", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestInterventions_ResolveQueued(t *testing.T) {
	queue := intervention.NewQueueGateway(zap.NewNop())
	h := NewRouter(newTestDeps(t, queue))

	decided := make(chan intervention.Response, 1)
	go func() {
		resp, _ := queue.Request(context.Background(), intervention.Request{ID: "iv-1", Type: intervention.TypeToolUsage})
		decided <- resp
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(queue.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never queued")
		}
		time.Sleep(time.Millisecond)
	}

	if rec := do(t, h, http.MethodGet, "/v1/interventions/iv-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/v1/interventions/iv-1", ResolveReq{Approved: true, Updates: map[string]any{"x": 1}})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", rec.Code)
	}

	select {
	case resp := <-decided:
		if !resp.Approved || resp.Updates["x"] != float64(1) {
			t.Fatalf("unexpected decision %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requester never unblocked")
	}

	if rec := do(t, h, http.MethodPost, "/v1/interventions/iv-1", ResolveReq{}); rec.Code != http.StatusNotFound {
		t.Fatalf("second resolve: expected 404, got %d", rec.Code)
	}
}
