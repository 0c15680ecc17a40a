// Package orchestrator sequences safety checks, routing, human review,
// tool execution and agent handoffs for every inbound unit of work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
	"github.com/triage-ai/palisade/services/orchestrator/internal/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultConfidenceThreshold = 0.7
	DefaultSampleInterval      = time.Second
	defaultConversation        = "default"
	recoveryTimeout            = 10 * time.Second
)

// SafetyClassifier scores content and tool invocations. Screen scores content
// the user did not author and must not count violations against them.
type SafetyClassifier interface {
	Evaluate(ctx context.Context, content string, user safety.UserContext) safety.Evaluation
	Screen(ctx context.Context, content string, user safety.UserContext) safety.Evaluation
	ValidateToolUsage(ctx context.Context, toolName, serializedParams string, user safety.UserContext) safety.ToolVerdict
}

// ToolInvoker performs the actual tool call. It must stop work when ctx is
// cancelled.
type ToolInvoker interface {
	Invoke(ctx context.Context, d tools.Descriptor, params map[string]any) (any, error)
}

// RecoveryHook is given a failed execution. It runs asynchronously, after
// the caller already has its result.
type RecoveryHook interface {
	Recover(ctx context.Context, exec ExecutionContext, err error)
}

// RecoveryFunc adapts a function to RecoveryHook.
type RecoveryFunc func(ctx context.Context, exec ExecutionContext, err error)

func (f RecoveryFunc) Recover(ctx context.Context, exec ExecutionContext, err error) {
	f(ctx, exec, err)
}

// Config wires an Orchestrator. Classifier, Tools, Agents, Router,
// Processor, Invoker and Gateway are required.
type Config struct {
	Classifier SafetyClassifier
	Tools      *tools.Registry
	Agents     *agents.Catalog
	Router     agents.Router
	Processor  agents.Processor
	Handoffer  agents.Handoffer // optional
	Invoker    ToolInvoker
	Gateway    intervention.Gateway
	Sampler    ResourceSampler // defaults to RuntimeSampler
	Recovery   RecoveryHook    // optional
	Events     events.Publisher

	ConfidenceThreshold float64
	SampleInterval      time.Duration
	Limits              Limits
	HistoryLimit        int

	Logger *zap.Logger
	Tracer trace.Tracer
}

// Orchestrator runs the message, tool-request and handoff pipelines.
type Orchestrator struct {
	classifier SafetyClassifier
	tools      *tools.Registry
	agents     *agents.Catalog
	router     agents.Router
	processor  agents.Processor
	handoffer  agents.Handoffer
	invoker    ToolInvoker
	gateway    intervention.Gateway
	sampler    ResourceSampler
	recovery   RecoveryHook
	events     events.Publisher

	threshold      float64
	sampleInterval time.Duration
	limits         Limits

	history *History

	activeMu sync.RWMutex
	active   map[string]string // conversation id -> agent id

	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Classifier == nil:
		return nil, errors.New("orchestrator: classifier is required")
	case cfg.Tools == nil:
		return nil, errors.New("orchestrator: tool registry is required")
	case cfg.Agents == nil:
		return nil, errors.New("orchestrator: agent catalog is required")
	case cfg.Router == nil:
		return nil, errors.New("orchestrator: router is required")
	case cfg.Processor == nil:
		return nil, errors.New("orchestrator: processor is required")
	case cfg.Invoker == nil:
		return nil, errors.New("orchestrator: tool invoker is required")
	case cfg.Gateway == nil:
		return nil, errors.New("orchestrator: intervention gateway is required")
	}

	o := &Orchestrator{
		classifier:     cfg.Classifier,
		tools:          cfg.Tools,
		agents:         cfg.Agents,
		router:         cfg.Router,
		processor:      cfg.Processor,
		handoffer:      cfg.Handoffer,
		invoker:        cfg.Invoker,
		gateway:        cfg.Gateway,
		sampler:        cfg.Sampler,
		recovery:       cfg.Recovery,
		events:         cfg.Events,
		threshold:      cfg.ConfidenceThreshold,
		sampleInterval: cfg.SampleInterval,
		limits:         cfg.Limits,
		history:        NewHistory(cfg.HistoryLimit),
		active:         make(map[string]string),
		now:            time.Now,
		logger:         cfg.Logger,
		tracer:         cfg.Tracer,
	}
	if o.sampler == nil {
		o.sampler = RuntimeSampler{}
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.threshold <= 0 {
		o.threshold = DefaultConfidenceThreshold
	}
	if o.sampleInterval <= 0 {
		o.sampleInterval = DefaultSampleInterval
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("palisade/orchestrator")
	}
	return o, nil
}

// History returns the agent's conversation history ordered by intake.
func (o *Orchestrator) History(agentID string) []Entry {
	return o.history.Get(agentID)
}

// ActiveAgent returns the agent currently holding a conversation.
func (o *Orchestrator) ActiveAgent(conversationID string) (string, bool) {
	o.activeMu.RLock()
	defer o.activeMu.RUnlock()
	id, ok := o.active[conversationKey(conversationID)]
	return id, ok
}

func (o *Orchestrator) setActive(conversationID, agentID string) {
	o.activeMu.Lock()
	o.active[conversationKey(conversationID)] = agentID
	o.activeMu.Unlock()
}

func conversationKey(id string) string {
	if id == "" {
		return defaultConversation
	}
	return id
}

func newRequestID() string {
	return uuid.NewString()
}

func (o *Orchestrator) publish(ctx context.Context, name events.Name, requestID string, user safety.UserContext, fill func(*events.Event)) {
	e := events.Event{
		Name:           name,
		RequestID:      requestID,
		UserID:         user.UserID,
		SessionID:      user.SessionID,
		ConversationID: user.ConversationID,
	}
	if fill != nil {
		fill(&e)
	}
	o.events.Publish(ctx, e)
}

// intervene asks the gateway for a decision. Rejections map to rejectCode;
// a gateway timeout maps to CodeInterventionTimeout.
func (o *Orchestrator) intervene(ctx context.Context, requestID string, user safety.UserContext, typ intervention.Type, payload map[string]any, rejectCode Code) (intervention.Response, *Error) {
	req := intervention.Request{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		CreatedAt: o.now().UTC(),
	}
	o.publish(ctx, events.InterventionRequested, requestID, user, func(e *events.Event) {
		e.Payload = map[string]any{"intervention_id": req.ID, "type": string(typ)}
	})

	resp, err := o.gateway.Request(ctx, req)

	o.publish(ctx, events.InterventionResolved, requestID, user, func(e *events.Event) {
		e.Payload = map[string]any{
			"intervention_id": req.ID,
			"type":            string(typ),
			"approved":        err == nil && resp.Approved,
		}
	})

	switch {
	case errors.Is(err, intervention.ErrTimeout):
		return resp, newError(CodeInterventionTimeout, fmt.Sprintf("%s review timed out", typ), err)
	case err != nil:
		return resp, newError(rejectCode, fmt.Sprintf("%s review failed", typ), err)
	case !resp.Approved:
		reason := resp.Reason
		if reason == "" {
			reason = "rejected by reviewer"
		}
		return resp, newError(rejectCode, reason, nil)
	}
	return resp, nil
}

// guard converts a panic inside a pipeline into an INTERNAL_ERROR result.
func (o *Orchestrator) guard(pipeline, requestID string, res *Result) {
	if r := recover(); r != nil {
		o.logger.Error("pipeline panicked",
			zap.String("pipeline", pipeline),
			zap.String("request_id", requestID),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		*res = failure(requestID, newError(CodeInternal, "internal error", fmt.Errorf("panic: %v", r)))
	}
}

func endSpan(span trace.Span, res Result) {
	if !res.Success {
		span.SetStatus(codes.Error, string(res.Code))
	}
	span.End()
}
