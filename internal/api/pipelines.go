package api

import (
	"net/http"

	"github.com/triage-ai/palisade/services/orchestrator/internal/orchestrator"
)

// statusFor maps a pipeline result to an HTTP status. The body is the
// Result either way.
func statusFor(res orchestrator.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case orchestrator.CodeToolValidationFailed, orchestrator.CodeHandoffInvalidAgent:
		return http.StatusUnprocessableEntity
	case orchestrator.CodeSafetyRejected, orchestrator.CodeRoutingRejected,
		orchestrator.CodeToolRejected, orchestrator.CodeHandoffRejected:
		return http.StatusForbidden
	case orchestrator.CodeToolUnavailable:
		return http.StatusConflict
	case orchestrator.CodeToolRateLimited:
		return http.StatusTooManyRequests
	case orchestrator.CodeToolTimeout, orchestrator.CodeInterventionTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.CodeToolExecutionError:
		return http.StatusBadGateway
	case orchestrator.CodeResourceLimitExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleMessage implements POST /v1/messages.
func (d *Dependencies) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "content is required"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	res := d.Orchestrator.ProcessMessage(r.Context(), req.Content, req.context())
	writeJSON(w, statusFor(res), res)
}

// handleInvokeTool implements POST /v1/tools/{tool_id}/invoke.
func (d *Dependencies) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	var req InvokeToolReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	res := d.Orchestrator.RequestTool(r.Context(), r.PathValue("tool_id"), req.Params, req.context())
	writeJSON(w, statusFor(res), res)
}

// handleHandoff implements POST /v1/handoffs.
func (d *Dependencies) handleHandoff(w http.ResponseWriter, r *http.Request) {
	var req HandoffReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.FromAgentID == "" || req.ToAgentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "from_agent_id and to_agent_id are required"})
		return
	}

	res := d.Orchestrator.Handoff(r.Context(), req.FromAgentID, req.ToAgentID, req.Message, req.context())
	writeJSON(w, statusFor(res), res)
}
