package api

import (
	"errors"
	"net/http"

	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
)

func (d *Dependencies) queueOr404(w http.ResponseWriter) bool {
	if d.Queue == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Reviewer queue is not enabled"})
		return false
	}
	return true
}

// handleListInterventions implements GET /v1/interventions.
func (d *Dependencies) handleListInterventions(w http.ResponseWriter, _ *http.Request) {
	if !d.queueOr404(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interventions": d.Queue.Pending()})
}

// handleGetIntervention implements GET /v1/interventions/{id}.
func (d *Dependencies) handleGetIntervention(w http.ResponseWriter, r *http.Request) {
	if !d.queueOr404(w) {
		return
	}
	req, err := d.Queue.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Intervention not found"})
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleResolveIntervention implements POST /v1/interventions/{id}.
func (d *Dependencies) handleResolveIntervention(w http.ResponseWriter, r *http.Request) {
	if !d.queueOr404(w) {
		return
	}
	var req ResolveReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	err := d.Queue.Resolve(r.PathValue("id"), intervention.Response{
		Approved: req.Approved,
		Updates:  req.Updates,
		Reason:   req.Reason,
	})
	switch {
	case errors.Is(err, intervention.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Intervention not found"})
	case errors.Is(err, intervention.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Intervention already resolved"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "approved": req.Approved})
	}
}
