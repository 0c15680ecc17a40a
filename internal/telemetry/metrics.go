package telemetry

import (
	"context"

	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EventMetrics turns bus events into counters and histograms.
type EventMetrics struct {
	events        metric.Int64Counter
	toolFailures  metric.Int64Counter
	violations    metric.Int64Counter
	interventions metric.Int64Counter
	toolDuration  metric.Float64Histogram
}

// NewEventMetrics creates the instruments on meter.
func NewEventMetrics(meter metric.Meter) (*EventMetrics, error) {
	m := &EventMetrics{}
	var err error
	if m.events, err = meter.Int64Counter(
		"orchestrator.events",
		metric.WithDescription("Orchestration events by name"),
	); err != nil {
		return nil, err
	}
	if m.toolFailures, err = meter.Int64Counter(
		"orchestrator.tool.failures",
		metric.WithDescription("Failed tool executions by tool and error code"),
	); err != nil {
		return nil, err
	}
	if m.violations, err = meter.Int64Counter(
		"orchestrator.safety.violations",
		metric.WithDescription("Safety rejections by stage"),
	); err != nil {
		return nil, err
	}
	if m.interventions, err = meter.Int64Counter(
		"orchestrator.interventions",
		metric.WithDescription("Resolved interventions by type and outcome"),
	); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"orchestrator.tool.duration",
		metric.WithDescription("Tool execution wall time"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Handle records e. It matches events.Handler.
func (m *EventMetrics) Handle(ctx context.Context, e events.Event) {
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(e.Name))))

	switch e.Name {
	case events.ToolExecutionComplete:
		if d, ok := durationMs(e.Payload); ok {
			m.toolDuration.Record(ctx, d, metric.WithAttributes(
				attribute.String("tool_id", e.ToolID),
				attribute.Bool("success", true),
			))
		}
	case events.ToolExecutionError:
		code, _ := e.Payload["code"].(string)
		m.toolFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool_id", e.ToolID),
			attribute.String("code", code),
		))
		if d, ok := durationMs(e.Payload); ok {
			m.toolDuration.Record(ctx, d, metric.WithAttributes(
				attribute.String("tool_id", e.ToolID),
				attribute.Bool("success", false),
			))
		}
	case events.SafetyViolation:
		stage, _ := e.Payload["stage"].(string)
		m.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	case events.InterventionResolved:
		typ, _ := e.Payload["type"].(string)
		approved, _ := e.Payload["approved"].(bool)
		m.interventions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", typ),
			attribute.Bool("approved", approved),
		))
	}
}

// Subscribe attaches m to bus and returns the unsubscribe function.
func (m *EventMetrics) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(m.Handle)
}

func durationMs(payload map[string]any) (float64, bool) {
	switch d := payload["duration_ms"].(type) {
	case int64:
		return float64(d), true
	case int:
		return float64(d), true
	case float64:
		return d, true
	default:
		return 0, false
	}
}
