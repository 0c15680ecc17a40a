package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/ratelimit"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
	"github.com/triage-ai/palisade/services/orchestrator/internal/tools"
	"go.uber.org/zap"
)

// stubCheck flags "danger" as HIGH and "review-me" as MEDIUM.
type stubCheck struct{}

func (stubCheck) Name() string { return "stub" }

func (stubCheck) Detect(_ context.Context, req *safety.CheckRequest) ([]safety.Finding, error) {
	var out []safety.Finding
	if strings.Contains(req.Content, "danger") {
		out = append(out, safety.Finding{Category: safety.CategorySystemOperation, Risk: risk.High, Description: "danger"})
	}
	if strings.Contains(req.Content, "review-me") {
		out = append(out, safety.Finding{Category: safety.CategoryNetwork, Risk: risk.Medium, Description: "review"})
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

type stubRouter struct {
	route  agents.Route
	called int
}

func (s *stubRouter) Route(context.Context, string) (agents.Route, error) {
	s.called++
	return s.route, nil
}

type stubInvoker func(ctx context.Context, d tools.Descriptor, params map[string]any) (any, error)

func (f stubInvoker) Invoke(ctx context.Context, d tools.Descriptor, params map[string]any) (any, error) {
	return f(ctx, d, params)
}

type fixedSampler struct{ usage ResourceUsage }

func (s fixedSampler) Sample() ResourceUsage { return s.usage }

type recordingGateway struct {
	mu       sync.Mutex
	requests []intervention.Request
	decide   func(intervention.Request) (intervention.Response, error)
}

func (g *recordingGateway) Request(_ context.Context, req intervention.Request) (intervention.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.decide == nil {
		return intervention.Response{Approved: true}, nil
	}
	return g.decide(req)
}

func (g *recordingGateway) calls() []intervention.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]intervention.Request(nil), g.requests...)
}

func calculatorTool() tools.Descriptor {
	return tools.Descriptor{
		ID:       "calculator",
		Name:     "calculator",
		Category: tools.CategoryAnalysis,
		Risk:     risk.Low,
		Endpoint: "http://tools.local/calc",
		ParamSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"expression": map[string]any{"type": "string"}},
		},
		Required: []string{"expression"},
	}
}

type harness struct {
	orch     *Orchestrator
	registry *tools.Registry
	router   *stubRouter
	gateway  *recordingGateway
	events   *recorder
}

type harnessOption func(*Config, *harness)

func withInvoker(f stubInvoker) harnessOption {
	return func(c *Config, _ *harness) { c.Invoker = f }
}

func withSampler(s ResourceSampler) harnessOption {
	return func(c *Config, _ *harness) { c.Sampler = s }
}

func withRecovery(r RecoveryHook) harnessOption {
	return func(c *Config, _ *harness) { c.Recovery = r }
}

func withProcessor(p agents.Processor) harnessOption {
	return func(c *Config, _ *harness) { c.Processor = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	registry := tools.NewRegistry(logger)
	shell := tools.Descriptor{ID: "shell", Name: "shell", Category: tools.CategorySystem, Access: []tools.Access{tools.AccessSystem}}
	slow := tools.Descriptor{ID: "slow", Name: "slow", Category: tools.CategoryAnalysis, Timeout: 30 * time.Millisecond}
	limited := tools.Descriptor{ID: "limited", Name: "limited", RateLimit: ratelimit.Rule{MaxCalls: 1, Window: time.Hour}}
	if err := registry.RegisterAll([]tools.Descriptor{calculatorTool(), shell, slow, limited}); err != nil {
		t.Fatal(err)
	}

	catalog, err := agents.NewCatalog(agents.DefaultAgents())
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		registry: registry,
		router:   &stubRouter{route: agents.Route{AgentID: "coder", Confidence: 0.9, Reason: "keywords"}},
		gateway:  &recordingGateway{},
		events:   &recorder{},
	}
	cfg := Config{
		Classifier: safety.NewClassifier(safety.Config{
			Checks:       []safety.Check{stubCheck{}},
			CheckTimeout: time.Second,
			Tools:        registry,
			Logger:       logger,
		}),
		Tools:     registry,
		Agents:    catalog,
		Router:    h.router,
		Processor: agents.EchoProcessor{},
		Handoffer: agents.EchoProcessor{},
		Invoker: stubInvoker(func(context.Context, tools.Descriptor, map[string]any) (any, error) {
			return map[string]any{"result": 4}, nil
		}),
		Gateway:        h.gateway,
		Sampler:        fixedSampler{usage: ResourceUsage{HeapMB: 10, Goroutines: 10}},
		Events:         h.events,
		SampleInterval: 5 * time.Millisecond,
		Limits:         Limits{MaxMemoryMB: 1024, MaxGoroutines: 10000},
		Logger:         logger,
	}
	for _, opt := range opts {
		opt(&cfg, h)
	}

	h.orch, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func user(id string) safety.UserContext {
	return safety.UserContext{UserID: id, SessionID: "s-" + id, ConversationID: "c-" + id}
}
