package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/ratelimit"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
)

// Default per-user request rate.
const (
	DefaultUserMaxCalls = 60
	DefaultUserWindow   = time.Minute
)

// ContextualCheck flags users who exceed their request rate. The violation
// trend itself is enforced by the classifier, which forces UNSAFE without
// adding a finding so clean traffic does not keep the decay window open.
type ContextualCheck struct {
	limiter *ratelimit.Window
	rule    ratelimit.Rule
}

// NewContextualCheck creates a check with the given per-user rate rule.
// A zero rule falls back to the defaults.
func NewContextualCheck(limiter *ratelimit.Window, rule ratelimit.Rule) *ContextualCheck {
	if limiter == nil {
		limiter = ratelimit.NewWindow()
	}
	if !rule.Enabled() {
		rule = ratelimit.Rule{MaxCalls: DefaultUserMaxCalls, Window: DefaultUserWindow}
	}
	return &ContextualCheck{limiter: limiter, rule: rule}
}

func (c *ContextualCheck) Name() string {
	return "contextual"
}

func (c *ContextualCheck) Detect(_ context.Context, req *safety.CheckRequest) ([]safety.Finding, error) {
	if req.User.UserID == "" {
		return nil, nil
	}

	if !c.limiter.Allow(req.User.UserID, c.rule) {
		detail := fmt.Sprintf("user rate limit exceeded: %d calls in %s window", c.rule.MaxCalls, c.rule.Window)
		return []safety.Finding{{
			Check:       c.Name(),
			Category:    safety.CategoryRateLimit,
			Risk:        risk.Medium,
			Description: detail,
		}}, nil
	}

	return nil, nil
}
