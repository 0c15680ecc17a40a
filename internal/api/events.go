package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/storage"
	"go.uber.org/zap"
)

// EventListResp is the body of GET /v1/events.
type EventListResp struct {
	Events   []storage.OrchestrationEvent `json:"events"`
	Total    int                          `json:"total"`
	Page     int                          `json:"page"`
	PageSize int                          `json:"page_size"`
}

// handleListEvents implements GET /v1/events.
func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.EventReader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	query := storage.EventQuery{
		Name:      queryString(q, "name"),
		RequestID: queryString(q, "request_id"),
		UserID:    queryString(q, "user_id"),
		AgentID:   queryString(q, "agent_id"),
		ToolID:    queryString(q, "tool_id"),
		Code:      queryString(q, "code"),
		StartTime: queryTime(q, "start_time"),
		EndTime:   queryTime(q, "end_time"),
		Page:      queryInt(q, "page", 1),
		PageSize:  queryInt(q, "page_size", 50),
	}
	if query.PageSize > 200 {
		query.PageSize = 200
	}
	if query.Page < 1 {
		query.Page = 1
	}

	list, total, err := d.EventReader.ListEvents(r.Context(), query)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}
	if list == nil {
		list = []storage.OrchestrationEvent{}
	}
	writeJSON(w, http.StatusOK, EventListResp{
		Events:   list,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
}

// handleEventSummary implements GET /v1/events/summary.
func (d *Dependencies) handleEventSummary(w http.ResponseWriter, r *http.Request) {
	if d.EventReader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	days := queryInt(r.URL.Query(), "days", 7)
	if days < 1 || days > 90 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "days must be between 1 and 90"})
		return
	}

	summary, err := d.EventReader.Summarize(r.Context(), days)
	if err != nil {
		d.Logger.Error("failed to summarize events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to summarize events"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func queryString(q url.Values, key string) *string {
	if v := q.Get(key); v != "" {
		return &v
	}
	return nil
}

func queryTime(q url.Values, key string) *time.Time {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func queryInt(q url.Values, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
