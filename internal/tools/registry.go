// Package tools holds tool descriptors, their static risk and the per-tool
// availability state machine.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/triage-ai/palisade/services/orchestrator/internal/ratelimit"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"go.uber.org/zap"
)

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrToolUnavailable   = errors.New("tool unavailable")
	ErrAlreadyRegistered = errors.New("tool already registered")
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")
	ErrInvalidParams     = errors.New("invalid tool parameters")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Lookup fetches descriptors the registry does not hold yet.
// Returns nil, nil when the tool does not exist.
type Lookup interface {
	LookupTool(ctx context.Context, toolID string) (*Descriptor, error)
}

// entry is a registered tool. desc, risk and schema never change after
// registration; state, inUse and usage are guarded by mu.
//
// inUse tracks the in-flight execution independently of state, so an
// administrative change while a call runs cannot admit a second one.
type entry struct {
	desc   Descriptor
	risk   risk.Level
	schema *jsonschema.Schema

	mu    sync.Mutex
	state State
	inUse bool
	usage Usage
}

// Registry owns tool descriptors and their runtime state.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*entry
	byName map[string]*entry

	limiter        *ratelimit.Window
	lookup         Lookup
	defaultTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLookup sets a fallback source consulted for unknown tool ids.
func WithLookup(l Lookup) Option {
	return func(r *Registry) { r.lookup = l }
}

// WithDefaultTimeout sets the timeout given to tools registered without one,
// whichever source they come from.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) { r.defaultTimeout = d }
}

// WithClock sets the clock used for usage timestamps and rate limits.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		byID:   make(map[string]*entry),
		byName: make(map[string]*entry),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.limiter = ratelimit.NewWindowWithClock(r.now)
	return r
}

// Register adds a tool in the AVAILABLE state and computes its static risk.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" || d.Name == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidDescriptor)
	}
	if d.Timeout <= 0 && r.defaultTimeout > 0 {
		d.Timeout = r.defaultTimeout
	}
	sch, err := compileSchema(d.ID, d.ParamSchema)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, d.ID, err)
	}

	e := &entry{
		desc:   d,
		risk:   ClassifyRisk(d),
		schema: sch,
		state:  StateAvailable,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, d.ID)
	}
	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("%w: name %s", ErrAlreadyRegistered, d.Name)
	}
	r.byID[d.ID] = e
	r.byName[d.Name] = e

	r.logger.Info("registered tool",
		zap.String("tool_id", d.ID),
		zap.String("tool_name", d.Name),
		zap.String("risk", e.risk.String()),
	)
	return nil
}

func (r *Registry) get(toolID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.byID[toolID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
	}
	return e, nil
}

// Resolve returns the descriptor for toolID, consulting the fallback lookup
// (and registering its answer) when the tool is not held locally.
func (r *Registry) Resolve(ctx context.Context, toolID string) (Descriptor, error) {
	if e, err := r.get(toolID); err == nil {
		return e.desc, nil
	}
	if r.lookup == nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
	}

	d, err := r.lookup.LookupTool(ctx, toolID)
	if err != nil {
		return Descriptor{}, fmt.Errorf("Resolve: %w", err)
	}
	if d == nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
	}
	if err := r.Register(*d); err != nil && !errors.Is(err, ErrAlreadyRegistered) {
		return Descriptor{}, err
	}
	e, err := r.get(toolID)
	if err != nil {
		return Descriptor{}, err
	}
	return e.desc, nil
}

// Get returns the descriptor registered under toolID.
func (r *Registry) Get(toolID string) (Descriptor, error) {
	e, err := r.get(toolID)
	if err != nil {
		return Descriptor{}, err
	}
	return e.desc, nil
}

// GetByName returns the descriptor registered under a tool name.
func (r *Registry) GetByName(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// ToolRisk returns the static risk of the tool with the given name.
func (r *Registry) ToolRisk(name string) (risk.Level, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return risk.Unspecified, false
	}
	return e.risk, true
}

// List returns all tools sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].desc.ID < entries[j].desc.ID })

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rt := RuntimeState{State: e.state, Usage: e.usage}
		e.mu.Unlock()
		out = append(out, Info{Descriptor: e.desc, Risk: e.risk, Runtime: rt})
	}
	return out
}

// GetState returns a snapshot of the tool's runtime state.
func (r *Registry) GetState(toolID string) (RuntimeState, error) {
	e, err := r.get(toolID)
	if err != nil {
		return RuntimeState{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return RuntimeState{State: e.state, Usage: e.usage}, nil
}

// RequestUsage atomically moves the tool from AVAILABLE to IN_USE.
// Any other current state, or an execution still in flight, fails with
// ErrToolUnavailable and changes nothing.
func (r *Registry) RequestUsage(toolID string) error {
	e, err := r.get(toolID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateAvailable || e.inUse {
		return fmt.Errorf("%w: %s is %s", ErrToolUnavailable, toolID, e.state)
	}
	e.state = StateInUse
	e.inUse = true
	return nil
}

// Release ends the in-flight execution and records the call. The tool goes
// back to AVAILABLE unless it was disabled while in use.
func (r *Registry) Release(toolID string, failed bool) error {
	e, err := r.get(toolID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inUse {
		return fmt.Errorf("%w: release of %s in state %s", ErrInvalidTransition, toolID, e.state)
	}
	e.inUse = false
	if e.state == StateInUse {
		e.state = StateAvailable
	}

	e.usage.Calls++
	if failed {
		e.usage.Failures++
	}
	e.usage.LastUsed = r.now()
	return nil
}

// Transition applies an administrative or lifecycle state change.
// Allowed: AVAILABLE→IN_USE, any→DISABLED, any→REQUIRES_AUTH and
// DISABLED|REQUIRES_AUTH→AVAILABLE once no execution is in flight.
// IN_USE→AVAILABLE happens only through Release.
func (r *Registry) Transition(toolID string, to State) error {
	if to == StateInUse {
		return r.RequestUsage(toolID)
	}
	e, err := r.get(toolID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.state
	switch {
	case to == StateDisabled, to == StateRequiresAuth:
	case to == StateAvailable && from != StateAvailable && !e.inUse:
	default:
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	e.state = to

	r.logger.Info("tool state changed",
		zap.String("tool_id", toolID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return nil
}

// Disable marks the tool DISABLED.
func (r *Registry) Disable(toolID string) error {
	return r.Transition(toolID, StateDisabled)
}

// RequireAuth marks the tool REQUIRES_AUTH.
func (r *Registry) RequireAuth(toolID string) error {
	return r.Transition(toolID, StateRequiresAuth)
}

// Enable clears an administrative state back to AVAILABLE. It fails while an
// execution is still in flight.
func (r *Registry) Enable(toolID string) error {
	return r.Transition(toolID, StateAvailable)
}

// ValidateParams checks params against the tool's required list and schema.
func (r *Registry) ValidateParams(toolID string, params map[string]any) error {
	e, err := r.get(toolID)
	if err != nil {
		return err
	}
	return validateParams(params, e.desc.Required, e.schema)
}

// AllowCall records a call against the tool's rate-limit window and reports
// whether it fits. Tools without a rate limit always allow.
func (r *Registry) AllowCall(toolID string) (bool, error) {
	e, err := r.get(toolID)
	if err != nil {
		return false, err
	}
	return r.limiter.Allow(toolID, e.desc.RateLimit), nil
}

// Stats summarizes the registry.
type Stats struct {
	Tools    int            `json:"tools"`
	ByState  map[string]int `json:"by_state"`
	Calls    int64          `json:"calls"`
	Failures int64          `json:"failures"`
}

// Stats counts tools per state and totals their usage.
func (r *Registry) Stats() Stats {
	s := Stats{ByState: make(map[string]int)}
	for _, info := range r.List() {
		s.Tools++
		s.ByState[info.Runtime.State.String()]++
		s.Calls += info.Runtime.Usage.Calls
		s.Failures += info.Runtime.Usage.Failures
	}
	return s
}
