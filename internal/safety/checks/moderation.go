package checks

import (
	"context"
	"regexp"
	"strings"

	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
)

// Action is what a content policy signature asks for when it matches.
type Action int

const (
	ActionBlock Action = iota + 1
	ActionFlag
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionBlock:
		return "block"
	case ActionFlag:
		return "flag"
	default:
		return "unspecified"
	}
}

// riskFor maps a policy action onto the risk scale: block → HIGH, flag → MEDIUM.
func riskFor(a Action) risk.Level {
	if a == ActionBlock {
		return risk.High
	}
	return risk.Medium
}

// Pre-compiled content policy patterns.
var moderationPatterns = []struct {
	re       *regexp.Regexp
	category safety.Category
	action   Action
	detail   string
}{
	// Violence - explicit
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)?(make|build|create|construct)\s+(a\s+)?(bomb|explosive|weapon|firearm)\b`), safety.CategoryContentPolicy, ActionBlock, "violence: weapon/explosive creation instructions"},
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)?(kill|murder|assassinate|poison)\s+(a\s+)?(person|someone|people|human)\b`), safety.CategoryContentPolicy, ActionBlock, "violence: instructions to harm people"},

	// Self-harm
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)(commit\s+suicide|kill\s+(myself|yourself)|end\s+(my|your)\s+life)\b`), safety.CategoryContentPolicy, ActionBlock, "self-harm: suicide instructions"},
	{regexp.MustCompile(`(?i)\b(encourage|encouraging|promote|promoting)\s+(self[- ]?harm|suicide|cutting)\b`), safety.CategoryContentPolicy, ActionBlock, "self-harm: encouraging self-harm"},

	// CSAM
	{regexp.MustCompile(`(?i)\b(child|minor|underage|kid)\s+(sexual|porn|nude|naked|explicit)\b`), safety.CategoryContentPolicy, ActionBlock, "CSAM: child sexual content"},

	// Illegal activities
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)(hack|breach|break\s+into)\s+(a\s+)?(bank|government|military)\s+(system|server|database|network)\b`), safety.CategoryContentPolicy, ActionBlock, "illegal: hacking instructions for critical systems"},
	{regexp.MustCompile(`(?i)\b(synthesize|manufacture|produce|cook)\s+(methamphetamine|fentanyl|heroin|cocaine|meth)\b`), safety.CategoryContentPolicy, ActionBlock, "illegal: drug manufacturing instructions"},

	// Harmful software - review
	{regexp.MustCompile(`(?i)\b(write|create|build|develop)\s+(a\s+|some\s+)?(computer\s+)?(virus|malware|ransomware|keylogger|trojan)\b`), safety.CategoryContentPolicy, ActionFlag, "harmful software: malware authoring"},
	{regexp.MustCompile(`(?i)\b(zero[- ]day|0day)\s+exploit\b`), safety.CategoryContentPolicy, ActionFlag, "harmful software: exploit"},
	{regexp.MustCompile(`(?i)\bhack\s+into\b`), safety.CategoryContentPolicy, ActionFlag, "harmful content: unauthorized access"},

	// PII - review
	{regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), safety.CategoryPII, ActionFlag, "PII: Social Security Number"},
	{regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), safety.CategoryPII, ActionFlag, "PII: credit card (Visa)"},
	{regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), safety.CategoryPII, ActionFlag, "PII: credit card (Mastercard)"},
	{regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`), safety.CategoryPII, ActionFlag, "PII: credit card (Amex)"},
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), safety.CategoryPII, ActionFlag, "PII: email address"},
}

// Keyword list for quick substring matching (faster than regex for simple terms).
var moderationBlockedTerms = []struct {
	term   string
	detail string
}{
	{"child pornography", "CSAM: explicit term"},
	{"child porn", "CSAM: explicit term"},
}

// ModerationCheck scans for content policy violations. Blocking signatures
// produce HIGH findings, review signatures MEDIUM ones.
type ModerationCheck struct{}

func NewModerationCheck() *ModerationCheck {
	return &ModerationCheck{}
}

func (c *ModerationCheck) Name() string {
	return "moderation"
}

func (c *ModerationCheck) Detect(ctx context.Context, req *safety.CheckRequest) ([]safety.Finding, error) {
	var findings []safety.Finding

	// Fast keyword check first
	lower := strings.ToLower(req.Content)
	for _, t := range moderationBlockedTerms {
		if strings.Contains(lower, t.term) {
			findings = append(findings, safety.Finding{
				Check:       c.Name(),
				Category:    safety.CategoryContentPolicy,
				Risk:        riskFor(ActionBlock),
				Description: t.detail,
			})
			break
		}
	}

	for _, p := range moderationPatterns {
		if ctx.Err() != nil {
			break
		}
		if p.re.MatchString(req.Content) {
			findings = append(findings, safety.Finding{
				Check:       c.Name(),
				Category:    p.category,
				Risk:        riskFor(p.action),
				Description: p.action.String() + ": " + p.detail,
			})
		}
	}

	return findings, nil
}
