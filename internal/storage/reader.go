package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// EventQuery filters and paginates persisted events. Nil filters match all.
type EventQuery struct {
	Name      *string
	RequestID *string
	UserID    *string
	AgentID   *string
	ToolID    *string
	Code      *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// CodeCount is a failure code and how often it occurred.
type CodeCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// NameCount is an event name and how often it occurred.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencyStats holds tool execution latency percentiles in milliseconds.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Summary aggregates events over a time range.
type Summary struct {
	Days          int          `json:"days"`
	ByName        []NameCount  `json:"by_name"`
	FailureCodes  []CodeCount  `json:"failure_codes"`
	ToolLatencyMs LatencyStats `json:"tool_latency_ms"`
}

// EventReader queries persisted events.
type EventReader interface {
	ListEvents(ctx context.Context, q EventQuery) ([]OrchestrationEvent, int, error)
	Summarize(ctx context.Context, days int) (*Summary, error)
}

// ClickHouseReader reads the orchestration_events table.
type ClickHouseReader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseReader opens a ClickHouse connection for read queries.
func NewClickHouseReader(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseReader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}
	return &ClickHouseReader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *ClickHouseReader) Close() error {
	return r.conn.Close()
}

// buildFilter turns q into a WHERE clause and its named arguments.
func buildFilter(q EventQuery) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any
	eq := func(column string, v *string) {
		if v == nil {
			return
		}
		conditions = append(conditions, fmt.Sprintf("%s = @%s", column, column))
		args = append(args, clickhouse.Named(column, *v))
	}
	eq("name", q.Name)
	eq("request_id", q.RequestID)
	eq("user_id", q.UserID)
	eq("agent_id", q.AgentID)
	eq("tool_id", q.ToolID)
	eq("code", q.Code)
	if q.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *q.StartTime))
	}
	if q.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *q.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListEvents returns filtered events, newest first, and the total match count.
func (r *ClickHouseReader) ListEvents(ctx context.Context, q EventQuery) ([]OrchestrationEvent, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 50
	}
	where, args := buildFilter(q)

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM orchestration_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT event_id, name, timestamp, request_id, user_id, session_id, conversation_id, "+
			"agent_id, tool_id, code, duration_ms, payload_json "+
			"FROM orchestration_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(q.PageSize)),
		clickhouse.Named("offset", uint32((q.Page-1)*q.PageSize)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OrchestrationEvent
	for rows.Next() {
		var e OrchestrationEvent
		if err := rows.Scan(
			&e.EventID, &e.Name, &e.Timestamp, &e.RequestID, &e.UserID, &e.SessionID,
			&e.ConversationID, &e.AgentID, &e.ToolID, &e.Code, &e.DurationMs, &e.PayloadJSON,
		); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		out = append(out, e)
	}
	return out, int(total), rows.Err()
}

// Summarize aggregates the last days of events.
func (r *ClickHouseReader) Summarize(ctx context.Context, days int) (*Summary, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	since := clickhouse.Named("range_start", rangeStart)
	s := &Summary{Days: days}

	rows, err := r.conn.Query(ctx,
		"SELECT name, count() AS c FROM orchestration_events "+
			"WHERE timestamp >= @range_start GROUP BY name ORDER BY c DESC",
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("Summarize by name: %w", err)
	}
	for rows.Next() {
		var n NameCount
		var c uint64
		if err := rows.Scan(&n.Name, &c); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("Summarize by name scan: %w", err)
		}
		n.Count = int(c)
		s.ByName = append(s.ByName, n)
	}
	_ = rows.Close()

	rows, err = r.conn.Query(ctx,
		"SELECT code, count() AS c FROM orchestration_events "+
			"WHERE timestamp >= @range_start AND code != '' "+
			"GROUP BY code ORDER BY c DESC LIMIT 10",
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("Summarize codes: %w", err)
	}
	for rows.Next() {
		var cc CodeCount
		var c uint64
		if err := rows.Scan(&cc.Code, &c); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("Summarize codes scan: %w", err)
		}
		cc.Count = int(c)
		s.FailureCodes = append(s.FailureCodes, cc)
	}
	_ = rows.Close()

	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(duration_ms), quantile(0.95)(duration_ms), quantile(0.99)(duration_ms) "+
			"FROM orchestration_events WHERE timestamp >= @range_start "+
			"AND name IN ('tool-execution-complete', 'tool-execution-error')",
		since,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("Summarize latency: %w", err)
	}
	s.ToolLatencyMs = LatencyStats{P50: nanToZero(p50), P95: nanToZero(p95), P99: nanToZero(p99)}
	return s, nil
}

// nanToZero maps the NaN ClickHouse returns for empty quantiles to 0.
func nanToZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
