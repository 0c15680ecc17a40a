package tools

import (
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/ratelimit"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
)

// DefaultTimeout applies to tools that declare none.
const DefaultTimeout = 30 * time.Second

// Category groups tools by what they act on.
type Category string

const (
	CategorySystem        Category = "system"
	CategoryData          Category = "data"
	CategoryCommunication Category = "communication"
	CategoryAnalysis      Category = "analysis"
)

// Access is a resource class a tool declares it touches.
type Access string

const (
	AccessSystem   Access = "system"
	AccessDatabase Access = "database"
	AccessNetwork  Access = "network"
	AccessFile     Access = "file"

	// AccessFileWrite marks tools that modify files; it needs elevated review.
	AccessFileWrite Access = "file_write"
)

// Descriptor describes a registered tool. Immutable once registered.
type Descriptor struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Category    Category          `yaml:"category" json:"category"`
	Risk        risk.Level        `yaml:"risk" json:"risk"` // declared risk
	Access      []Access          `yaml:"access" json:"access,omitempty"`
	Endpoint    string            `yaml:"endpoint" json:"endpoint"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
	RateLimit   ratelimit.Rule    `yaml:"rate_limit" json:"rate_limit"`
	ParamSchema map[string]any    `yaml:"param_schema" json:"param_schema,omitempty"` // JSON Schema, nil if not set
	Required    []string          `yaml:"required" json:"required,omitempty"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata,omitempty"`
}

// EffectiveTimeout returns the declared timeout or DefaultTimeout.
func (d Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// State is a tool's availability.
type State int

const (
	StateAvailable State = iota
	StateInUse
	StateDisabled
	StateRequiresAuth
)

// String returns the uppercase state name.
func (s State) String() string {
	switch s {
	case StateAvailable:
		return "AVAILABLE"
	case StateInUse:
		return "IN_USE"
	case StateDisabled:
		return "DISABLED"
	case StateRequiresAuth:
		return "REQUIRES_AUTH"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Usage holds a tool's counters.
type Usage struct {
	Calls    int64     `json:"calls"`
	Failures int64     `json:"failures"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

// RuntimeState is a snapshot of a tool's mutable state.
type RuntimeState struct {
	State State `json:"state"`
	Usage Usage `json:"usage"`
}

// Info is a registered tool with its computed risk and runtime state.
type Info struct {
	Descriptor Descriptor   `json:"descriptor"`
	Risk       risk.Level   `json:"risk"`
	Runtime    RuntimeState `json:"runtime"`
}
