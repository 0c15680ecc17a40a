package safety

import (
	"fmt"

	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
)

// Level is the overall verdict of an evaluation.
type Level int

const (
	LevelSafe Level = iota + 1
	LevelWarning
	LevelUnsafe
)

// String returns the uppercase level name.
func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "SAFE"
	case LevelWarning:
		return "WARNING"
	case LevelUnsafe:
		return "UNSAFE"
	default:
		return "UNSPECIFIED"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	for _, v := range []Level{LevelSafe, LevelWarning, LevelUnsafe} {
		if v.String() == string(b) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown safety level %q", b)
}

// Category classifies what kind of risk a finding covers.
type Category string

const (
	CategoryInjection       Category = "injection"
	CategoryCredential      Category = "credential"
	CategorySystemOperation Category = "system_operation"
	CategoryDataOperation   Category = "data_operation"
	CategoryNetwork         Category = "network"
	CategoryResource        Category = "resource"
	CategoryContentPolicy   Category = "content_policy"
	CategoryPII             Category = "pii"
	CategoryRateLimit       Category = "rate_limit"
	CategoryCheckIncomplete Category = "check_incomplete"
)

// Finding is a single detected risk signal.
type Finding struct {
	Check       string     `json:"check"`
	Category    Category   `json:"category"`
	Risk        risk.Level `json:"risk"`
	Description string     `json:"description"`
}

// UserContext identifies who submitted the content.
type UserContext struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Evaluation is the outcome of Classifier.Evaluate.
type Evaluation struct {
	Safe     bool       `json:"safe"`
	Level    Level      `json:"level"`
	Risk     risk.Level `json:"risk"`
	Findings []Finding  `json:"findings"`
	// Escalated is set when the user's violation counter forced UNSAFE.
	Escalated bool `json:"escalated,omitempty"`
}

// ToolVerdict is the outcome of Classifier.ValidateToolUsage.
type ToolVerdict struct {
	Allowed              bool       `json:"allowed"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
	Risk                 risk.Level `json:"risk"`
	Reason               string     `json:"reason,omitempty"`
	Evaluation           Evaluation `json:"evaluation"`
}
