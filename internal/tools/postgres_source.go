package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"go.uber.org/zap"
)

// ToolStore abstracts the tool_definitions queries.
type ToolStore interface {
	LookupTool(ctx context.Context, toolID string) (*toolRow, error)
	ListTools(ctx context.Context) ([]*toolRow, error)
}

type toolRow struct {
	ID          string
	Name        string
	Description sql.NullString
	Category    string
	RiskLevel   sql.NullString
	Access      string // JSONB array
	Endpoint    string
	TimeoutMS   sql.NullInt64
	RateLimit   string // JSONB object
	ParamSchema sql.NullString
	Required    string // JSONB array
}

const toolColumns = `id, name, description, category, risk_level, access,
	       endpoint, timeout_ms, rate_limit, param_schema, required_params`

type sqlToolStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToolRow(s rowScanner) (*toolRow, error) {
	var r toolRow
	if err := s.Scan(
		&r.ID, &r.Name, &r.Description, &r.Category, &r.RiskLevel, &r.Access,
		&r.Endpoint, &r.TimeoutMS, &r.RateLimit, &r.ParamSchema, &r.Required,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlToolStore) LookupTool(ctx context.Context, toolID string) (*toolRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+toolColumns+`
		FROM tool_definitions
		WHERE id = $1 AND enabled
	`, toolID)
	return scanToolRow(row)
}

func (s *sqlToolStore) ListTools(ctx context.Context) ([]*toolRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+toolColumns+`
		FROM tool_definitions
		WHERE enabled
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*toolRow
	for rows.Next() {
		r, err := scanToolRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PostgresSource serves descriptors from the tool_definitions table through
// a DescriptorCache. It implements Lookup.
type PostgresSource struct {
	store  ToolStore
	cache  *DescriptorCache
	logger *zap.Logger
}

// PostgresSourceConfig configures a PostgresSource.
type PostgresSourceConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresSource creates a source backed by cfg.DB.
func NewPostgresSource(cfg PostgresSourceConfig) *PostgresSource {
	return newPostgresSourceWithStore(&sqlToolStore{db: cfg.DB}, cfg.CacheTTL, cfg.Logger)
}

func newPostgresSourceWithStore(store ToolStore, ttl time.Duration, logger *zap.Logger) *PostgresSource {
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSource{
		store:  store,
		cache:  NewDescriptorCache(ttl),
		logger: logger,
	}
}

// LookupTool returns the descriptor for toolID, or nil when no row exists.
func (p *PostgresSource) LookupTool(ctx context.Context, toolID string) (*Descriptor, error) {
	res := p.cache.Get(toolID)
	if res.Hit {
		if res.NeedsRefresh {
			go p.refreshInBackground(toolID)
		}
		return res.Descriptor, nil
	}

	d, err := p.fetch(ctx, toolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.cache.Set(toolID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("LookupTool: %w", err)
	}
	p.cache.Set(toolID, d)
	return d, nil
}

// LoadAll returns every enabled descriptor and primes the cache.
func (p *PostgresSource) LoadAll(ctx context.Context) ([]Descriptor, error) {
	rows, err := p.store.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadAll: %w", err)
	}
	out := make([]Descriptor, 0, len(rows))
	for _, row := range rows {
		d, err := parseToolRow(row)
		if err != nil {
			return nil, fmt.Errorf("LoadAll: %s: %w", row.ID, err)
		}
		p.cache.Set(d.ID, d)
		out = append(out, *d)
	}
	return out, nil
}

func (p *PostgresSource) fetch(ctx context.Context, toolID string) (*Descriptor, error) {
	row, err := p.store.LookupTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	return parseToolRow(row)
}

func (p *PostgresSource) refreshInBackground(toolID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := p.fetch(ctx, toolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.cache.Set(toolID, nil)
			return
		}
		p.logger.Warn("background tool source refresh failed",
			zap.String("tool_id", toolID),
			zap.Error(err),
		)
		return
	}
	p.cache.Set(toolID, d)
}

func parseToolRow(row *toolRow) (*Descriptor, error) {
	d := &Descriptor{
		ID:       row.ID,
		Name:     row.Name,
		Category: Category(row.Category),
		Endpoint: row.Endpoint,
	}
	if row.Description.Valid {
		d.Description = row.Description.String
	}
	if row.RiskLevel.Valid && row.RiskLevel.String != "" {
		lvl, err := risk.Parse(row.RiskLevel.String)
		if err != nil {
			return nil, fmt.Errorf("parseToolRow: risk_level: %w", err)
		}
		d.Risk = lvl
	}
	if row.TimeoutMS.Valid {
		d.Timeout = time.Duration(row.TimeoutMS.Int64) * time.Millisecond
	}

	if row.Access != "" && row.Access != "[]" {
		if err := json.Unmarshal([]byte(row.Access), &d.Access); err != nil {
			return nil, fmt.Errorf("parseToolRow: access: %w", err)
		}
	}
	if row.RateLimit != "" && row.RateLimit != "{}" {
		var rl struct {
			MaxCalls int   `json:"max_calls"`
			WindowMS int64 `json:"window_ms"`
		}
		if err := json.Unmarshal([]byte(row.RateLimit), &rl); err != nil {
			return nil, fmt.Errorf("parseToolRow: rate_limit: %w", err)
		}
		d.RateLimit.MaxCalls = rl.MaxCalls
		d.RateLimit.Window = time.Duration(rl.WindowMS) * time.Millisecond
	}
	if row.ParamSchema.Valid && row.ParamSchema.String != "" {
		var schema map[string]any
		if err := json.Unmarshal([]byte(row.ParamSchema.String), &schema); err != nil {
			return nil, fmt.Errorf("parseToolRow: param_schema: %w", err)
		}
		d.ParamSchema = schema
	}
	if row.Required != "" && row.Required != "[]" {
		if err := json.Unmarshal([]byte(row.Required), &d.Required); err != nil {
			return nil, fmt.Errorf("parseToolRow: required_params: %w", err)
		}
	}
	return d, nil
}
