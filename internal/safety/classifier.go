// Package safety scores content against risk signatures and tracks
// per-user violation counters.
package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"go.uber.org/zap"
)

// ToolRiskSource resolves a tool's static risk level by name.
type ToolRiskSource interface {
	ToolRisk(name string) (risk.Level, bool)
}

// Config configures a Classifier.
type Config struct {
	Checks       []Check
	CheckTimeout time.Duration
	Violations   *ViolationTracker // nil creates a tracker with defaults
	Tools        ToolRiskSource
	Logger       *zap.Logger
}

// Classifier runs the safety checks and applies the violation policy.
type Classifier struct {
	engine     *engine
	violations *ViolationTracker
	tools      ToolRiskSource
	logger     *zap.Logger
}

// NewClassifier creates a Classifier from cfg.
func NewClassifier(cfg Config) *Classifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	violations := cfg.Violations
	if violations == nil {
		violations = NewViolationTracker(0, 0, nil)
	}
	return &Classifier{
		engine: &engine{
			checks:  cfg.Checks,
			timeout: timeout,
			logger:  logger,
		},
		violations: violations,
		tools:      cfg.Tools,
		logger:     logger,
	}
}

// Violations exposes the tracker, for administrative reads and resets.
func (c *Classifier) Violations() *ViolationTracker {
	return c.violations
}

// Evaluate scores content for the given user. A call producing at least one
// finding increments the user's violation counter; a clean call leaves it as is.
// A check that fails or times out yields a HIGH check_incomplete finding, which
// does not count as a violation.
func (c *Classifier) Evaluate(ctx context.Context, content string, user UserContext) Evaluation {
	return c.evaluate(ctx, content, user, true)
}

// Screen scores content the user did not author, such as tool output. It
// applies the same checks and escalation state as Evaluate but never records
// a violation.
func (c *Classifier) Screen(ctx context.Context, content string, user UserContext) Evaluation {
	return c.evaluate(ctx, content, user, false)
}

func (c *Classifier) evaluate(ctx context.Context, content string, user UserContext, record bool) Evaluation {
	findings, incomplete := c.engine.run(ctx, &CheckRequest{Content: content, User: user})

	if record && len(findings) > 0 {
		rec := c.violations.Record(user.UserID)
		c.logger.Debug("safety findings recorded",
			zap.String("user_id", user.UserID),
			zap.Int("findings", len(findings)),
			zap.Int("violation_count", rec.Count),
		)
	}
	escalated := c.violations.Escalated(user.UserID)

	for _, name := range incomplete {
		findings = append(findings, Finding{
			Check:       name,
			Category:    CategoryCheckIncomplete,
			Risk:        risk.High,
			Description: "check did not complete",
		})
	}

	level, highest := Aggregate(findings, escalated)
	if findings == nil {
		findings = []Finding{}
	}
	return Evaluation{
		Safe:      level != LevelUnsafe,
		Level:     level,
		Risk:      highest,
		Findings:  findings,
		Escalated: escalated,
	}
}

// ValidateToolUsage evaluates a tool invocation. The serialized parameters go
// through Evaluate; a HIGH risk tool always requires confirmation regardless
// of what the parameters contain.
func (c *Classifier) ValidateToolUsage(ctx context.Context, toolName, serializedParams string, user UserContext) ToolVerdict {
	eval := c.Evaluate(ctx, serializedParams, user)

	toolRisk := risk.Unspecified
	known := false
	if c.tools != nil {
		toolRisk, known = c.tools.ToolRisk(toolName)
	}

	verdict := ToolVerdict{
		Allowed:              eval.Safe && known,
		RequiresConfirmation: toolRisk == risk.High || eval.Level == LevelWarning,
		Risk:                 risk.Max(toolRisk, eval.Risk),
		Evaluation:           eval,
	}

	switch {
	case !known:
		verdict.Reason = fmt.Sprintf("unregistered tool: %s", toolName)
	case eval.Escalated:
		verdict.Reason = "violation threshold reached"
	case !eval.Safe:
		verdict.Reason = describeFindings(eval.Findings)
	case verdict.RequiresConfirmation && toolRisk == risk.High:
		verdict.Reason = "high risk tool requires confirmation"
	case verdict.RequiresConfirmation:
		verdict.Reason = describeFindings(eval.Findings)
	}
	return verdict
}

func describeFindings(findings []Finding) string {
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", f.Category, f.Risk, f.Description))
	}
	return strings.Join(parts, "; ")
}
