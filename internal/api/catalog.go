package api

import (
	"errors"
	"net/http"

	"github.com/triage-ai/palisade/services/orchestrator/internal/tools"
	"go.uber.org/zap"
)

// handleListTools implements GET /v1/tools.
func (d *Dependencies) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": d.Tools.List(),
		"stats": d.Tools.Stats(),
	})
}

// handleGetTool implements GET /v1/tools/{tool_id}.
func (d *Dependencies) handleGetTool(w http.ResponseWriter, r *http.Request) {
	toolID := r.PathValue("tool_id")
	desc, err := d.Tools.Resolve(r.Context(), toolID)
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found"})
			return
		}
		d.Logger.Error("tool lookup failed", zap.String("tool_id", toolID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Tool lookup failed"})
		return
	}
	state, err := d.Tools.GetState(toolID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found"})
		return
	}
	risk, _ := d.Tools.ToolRisk(desc.Name)
	writeJSON(w, http.StatusOK, tools.Info{Descriptor: desc, Risk: risk, Runtime: state})
}

// handleSetToolState implements POST /v1/tools/{tool_id}/state.
func (d *Dependencies) handleSetToolState(w http.ResponseWriter, r *http.Request) {
	var req ToolStateReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	toolID := r.PathValue("tool_id")
	var err error
	switch req.State {
	case tools.StateAvailable.String():
		err = d.Tools.Enable(toolID)
	case tools.StateDisabled.String():
		err = d.Tools.Disable(toolID)
	case tools.StateRequiresAuth.String():
		err = d.Tools.RequireAuth(toolID)
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "state must be AVAILABLE, DISABLED or REQUIRES_AUTH"})
		return
	}
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found"})
		return
	case errors.Is(err, tools.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}

	state, _ := d.Tools.GetState(toolID)
	writeJSON(w, http.StatusOK, state)
}

// handleListAgents implements GET /v1/agents.
func (d *Dependencies) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": d.Agents.List()})
}

// handleAgentHistory implements GET /v1/agents/{agent_id}/history.
func (d *Dependencies) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	if _, ok := d.Agents.Get(agentID); !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"entries":  d.Orchestrator.History(agentID),
	})
}

// handleActiveAgent implements GET /v1/conversations/{conversation_id}/agent.
func (d *Dependencies) handleActiveAgent(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("conversation_id")
	agentID, ok := d.Orchestrator.ActiveAgent(convID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No active agent"})
		return
	}
	writeJSON(w, http.StatusOK, ActiveAgentResp{ConversationID: convID, AgentID: agentID})
}
