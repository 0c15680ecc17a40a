package orchestrator

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// LogRecovery logs failed executions and returns freed heap to the OS after
// resource-limit aborts.
type LogRecovery struct {
	Logger *zap.Logger
}

func (r LogRecovery) Recover(_ context.Context, exec ExecutionContext, err error) {
	r.Logger.Info("recovering from tool failure",
		zap.String("request_id", exec.RequestID),
		zap.String("tool_id", exec.ToolID),
		zap.String("code", string(exec.Code)),
		zap.Error(err),
	)
	if exec.Code == CodeResourceLimitExceeded {
		debug.FreeOSMemory()
	}
}
