package tools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/ratelimit"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"go.uber.org/zap"
)

func calculator() Descriptor {
	return Descriptor{
		ID:       "calculator",
		Name:     "calculator",
		Category: CategoryAnalysis,
		Risk:     risk.Low,
		Endpoint: "http://tools.local/calc",
		ParamSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		Required: []string{"expression"},
	}
}

func newTestRegistry(t *testing.T, descs ...Descriptor) *Registry {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger)
	if err := r.RegisterAll(descs); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRegistry(t, calculator())
	err := r.Register(calculator())
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegister_InvalidDescriptor(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Register(Descriptor{Name: "x"}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("missing id: expected ErrInvalidDescriptor, got %v", err)
	}
	bad := Descriptor{ID: "bad", Name: "bad", ParamSchema: map[string]any{"type": 42}}
	if err := r.Register(bad); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("bad schema: expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestRegister_StartsAvailable(t *testing.T) {
	r := newTestRegistry(t, calculator())
	st, err := r.GetState("calculator")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateAvailable {
		t.Fatalf("expected AVAILABLE, got %s", st.State)
	}
}

func TestToolRisk(t *testing.T) {
	shell := Descriptor{ID: "shell", Name: "shell", Risk: risk.Low, Access: []Access{AccessSystem}}
	r := newTestRegistry(t, calculator(), shell)

	if lvl, ok := r.ToolRisk("calculator"); !ok || lvl != risk.Low {
		t.Fatalf("calculator: got %v %v", lvl, ok)
	}
	if lvl, ok := r.ToolRisk("shell"); !ok || lvl != risk.High {
		t.Fatalf("shell: expected derived high, got %v %v", lvl, ok)
	}
	if _, ok := r.ToolRisk("ghost"); ok {
		t.Fatal("expected unknown tool")
	}
}

func TestRequestUsage_ExclusiveAndRelease(t *testing.T) {
	r := newTestRegistry(t, calculator())

	if err := r.RequestUsage("calculator"); err != nil {
		t.Fatal(err)
	}
	if err := r.RequestUsage("calculator"); !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if err := r.Release("calculator", true); err != nil {
		t.Fatal(err)
	}

	st, _ := r.GetState("calculator")
	if st.State != StateAvailable {
		t.Fatalf("expected AVAILABLE, got %s", st.State)
	}
	if st.Usage.Calls != 1 || st.Usage.Failures != 1 {
		t.Fatalf("unexpected usage %+v", st.Usage)
	}
}

func TestRequestUsage_ConcurrentSingleWinner(t *testing.T) {
	r := newTestRegistry(t, calculator())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.RequestUsage("calculator") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestRequestUsage_Disabled(t *testing.T) {
	r := newTestRegistry(t, calculator())
	if err := r.Disable("calculator"); err != nil {
		t.Fatal(err)
	}
	if err := r.RequestUsage("calculator"); !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	st, _ := r.GetState("calculator")
	if st.State != StateDisabled {
		t.Fatalf("failed request must not change state, got %s", st.State)
	}
}

func TestRelease_KeepsAdministrativeState(t *testing.T) {
	r := newTestRegistry(t, calculator())
	_ = r.RequestUsage("calculator")
	if err := r.Disable("calculator"); err != nil {
		t.Fatal(err)
	}
	if err := r.Release("calculator", false); err != nil {
		t.Fatal(err)
	}
	st, _ := r.GetState("calculator")
	if st.State != StateDisabled {
		t.Fatalf("expected DISABLED, got %s", st.State)
	}
}

func TestEnable_RefusedWhileExecutionInFlight(t *testing.T) {
	r := newTestRegistry(t, calculator())
	if err := r.RequestUsage("calculator"); err != nil {
		t.Fatal(err)
	}
	if err := r.Disable("calculator"); err != nil {
		t.Fatal(err)
	}
	if err := r.Enable("calculator"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("enable during execution: expected ErrInvalidTransition, got %v", err)
	}
	if err := r.RequestUsage("calculator"); !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("second execution admitted while first is in flight: %v", err)
	}

	if err := r.Release("calculator", false); err != nil {
		t.Fatal(err)
	}
	if err := r.Enable("calculator"); err != nil {
		t.Fatalf("enable after release: %v", err)
	}
	if err := r.RequestUsage("calculator"); err != nil {
		t.Fatalf("request after enable: %v", err)
	}
	st, _ := r.GetState("calculator")
	if st.State != StateInUse || st.Usage.Calls != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestRelease_NotInUse(t *testing.T) {
	r := newTestRegistry(t, calculator())
	if err := r.Release("calculator", false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEnable(t *testing.T) {
	r := newTestRegistry(t, calculator())
	if err := r.Enable("calculator"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("enable on available: expected ErrInvalidTransition, got %v", err)
	}
	_ = r.RequireAuth("calculator")
	if err := r.Enable("calculator"); err != nil {
		t.Fatal(err)
	}
	_ = r.RequestUsage("calculator")
	if err := r.Enable("calculator"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("enable on in-use: expected ErrInvalidTransition, got %v", err)
	}
}

func TestValidateParams(t *testing.T) {
	r := newTestRegistry(t, calculator())

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"expression": "1+1"}, false},
		{"missing required", map[string]any{}, true},
		{"wrong type", map[string]any{"expression": 7}, true},
		{"extra field", map[string]any{"expression": "1", "x": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateParams("calculator", tt.params)
			if tt.wantErr && !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAllowCall(t *testing.T) {
	now := time.Unix(1000, 0)
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, WithClock(func() time.Time { return now }))
	d := calculator()
	d.RateLimit = ratelimit.Rule{MaxCalls: 2, Window: time.Minute}
	if err := r.Register(d); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if ok, _ := r.AllowCall("calculator"); !ok {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if ok, _ := r.AllowCall("calculator"); ok {
		t.Fatal("third call should be limited")
	}
	now = now.Add(61 * time.Second)
	if ok, _ := r.AllowCall("calculator"); !ok {
		t.Fatal("window should have slid")
	}
}

func TestList_SortedWithState(t *testing.T) {
	b := calculator()
	b.ID, b.Name = "b-tool", "b-tool"
	a := calculator()
	a.ID, a.Name = "a-tool", "a-tool"
	r := newTestRegistry(t, b, a)
	_ = r.RequestUsage("b-tool")

	list := r.List()
	if len(list) != 2 || list[0].Descriptor.ID != "a-tool" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[1].Runtime.State != StateInUse {
		t.Fatalf("expected b-tool IN_USE, got %s", list[1].Runtime.State)
	}
}

type stubLookup struct {
	desc  *Descriptor
	calls int
}

func (s *stubLookup) LookupTool(_ context.Context, _ string) (*Descriptor, error) {
	s.calls++
	return s.desc, nil
}

func TestResolve_Lookup(t *testing.T) {
	d := calculator()
	lookup := &stubLookup{desc: &d}
	r := NewRegistry(zap.NewNop(), WithLookup(lookup))

	got, err := r.Resolve(context.Background(), "calculator")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "calculator" {
		t.Fatalf("unexpected descriptor %+v", got)
	}
	if _, err := r.Resolve(context.Background(), "calculator"); err != nil {
		t.Fatal(err)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected registered after first lookup, got %d calls", lookup.calls)
	}
}

func TestWithDefaultTimeout_AppliesToLookedUpTools(t *testing.T) {
	d := calculator()
	lookup := &stubLookup{desc: &d}
	r := NewRegistry(zap.NewNop(), WithLookup(lookup), WithDefaultTimeout(5*time.Second))

	got, err := r.Resolve(context.Background(), "calculator")
	if err != nil {
		t.Fatal(err)
	}
	if got.Timeout != 5*time.Second {
		t.Fatalf("expected default timeout on resolved tool, got %v", got.Timeout)
	}

	slow := calculator()
	slow.ID, slow.Name, slow.Timeout = "slow", "slow", time.Minute
	if err := r.Register(slow); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Get("slow"); got.Timeout != time.Minute {
		t.Fatalf("declared timeout must win, got %v", got.Timeout)
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := NewRegistry(zap.NewNop(), WithLookup(&stubLookup{}))
	if _, err := r.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want risk.Level
	}{
		{"default low", Descriptor{}, risk.Low},
		{"network medium", Descriptor{Access: []Access{AccessNetwork}}, risk.Medium},
		{"database high", Descriptor{Access: []Access{AccessFile, AccessDatabase}}, risk.High},
		{"declared wins", Descriptor{Risk: risk.High, Access: []Access{AccessFile}}, risk.High},
		{"file read medium", Descriptor{Access: []Access{AccessFile}}, risk.Medium},
		{"file write high", Descriptor{Access: []Access{AccessFileWrite}}, risk.High},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRisk(tt.d); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	other := calculator()
	other.ID, other.Name = "other", "other"
	r := newTestRegistry(t, calculator(), other)
	_ = r.RequestUsage("calculator")
	_ = r.Release("calculator", true)
	_ = r.Disable("other")

	s := r.Stats()
	if s.Tools != 2 || s.Calls != 1 || s.Failures != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.ByState["AVAILABLE"] != 1 || s.ByState["DISABLED"] != 1 {
		t.Fatalf("unexpected state counts %+v", s.ByState)
	}
}
