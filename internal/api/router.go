// Package api exposes the orchestrator and the reviewer queue over HTTP.
package api

import (
	"net/http"

	"github.com/triage-ai/palisade/services/orchestrator/internal/agents"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/orchestrator"
	"github.com/triage-ai/palisade/services/orchestrator/internal/storage"
	"github.com/triage-ai/palisade/services/orchestrator/internal/tools"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Tools        *tools.Registry
	Agents       *agents.Catalog
	Queue        *intervention.QueueGateway // nil unless reviews are queued
	EventReader  storage.EventReader        // nil if ClickHouse unavailable
	Logger       *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	// Pipelines
	mux.HandleFunc("POST /v1/messages", deps.handleMessage)
	mux.HandleFunc("POST /v1/tools/{tool_id}/invoke", deps.handleInvokeTool)
	mux.HandleFunc("POST /v1/handoffs", deps.handleHandoff)

	// Registry and catalog
	mux.HandleFunc("GET /v1/tools", deps.handleListTools)
	mux.HandleFunc("GET /v1/tools/{tool_id}", deps.handleGetTool)
	mux.HandleFunc("POST /v1/tools/{tool_id}/state", deps.handleSetToolState)
	mux.HandleFunc("GET /v1/agents", deps.handleListAgents)
	mux.HandleFunc("GET /v1/agents/{agent_id}/history", deps.handleAgentHistory)
	mux.HandleFunc("GET /v1/conversations/{conversation_id}/agent", deps.handleActiveAgent)

	// Reviewer queue
	mux.HandleFunc("GET /v1/interventions", deps.handleListInterventions)
	mux.HandleFunc("GET /v1/interventions/{id}", deps.handleGetIntervention)
	mux.HandleFunc("POST /v1/interventions/{id}", deps.handleResolveIntervention)

	// Persisted events
	mux.HandleFunc("GET /v1/events", deps.handleListEvents)
	mux.HandleFunc("GET /v1/events/summary", deps.handleEventSummary)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
