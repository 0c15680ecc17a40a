package storage

import "go.uber.org/zap"

// LogWriter is a fallback EventWriter for local development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *OrchestrationEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event", event.Name),
		zap.String("request_id", event.RequestID),
		zap.String("user_id", event.UserID),
	}
	if event.AgentID != "" {
		fields = append(fields, zap.String("agent_id", event.AgentID))
	}
	if event.ToolID != "" {
		fields = append(fields, zap.String("tool_id", event.ToolID))
	}
	if event.Code != "" {
		fields = append(fields, zap.String("code", event.Code))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Float32("duration_ms", event.DurationMs))
	}
	w.logger.Info("orchestration_event", fields...)
}

func (w *LogWriter) Close() {}
