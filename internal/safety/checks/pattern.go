package checks

import (
	"context"
	"regexp"

	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
)

// signature is a named, pre-compiled risk pattern.
type signature struct {
	re       *regexp.Regexp
	category safety.Category
	risk     risk.Level
	detail   string
}

// Unsafe signatures, compiled once at startup.
var unsafeSignatures = []signature{
	// Destructive system commands
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+(/|~|\*|\.\.?/?)`), safety.CategorySystemOperation, risk.High, "destructive command: recursive delete"},
	{regexp.MustCompile(`(?i)\bsudo\s+\S`), safety.CategorySystemOperation, risk.High, "privilege escalation: sudo"},
	{regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\s`), safety.CategorySystemOperation, risk.High, "destructive command: filesystem format"},
	{regexp.MustCompile(`(?i)\bdd\s+if=\S+\s+of=/dev/`), safety.CategorySystemOperation, risk.High, "destructive command: raw device write"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\s+(-[a-z]+|now)\b`), safety.CategorySystemOperation, risk.High, "destructive command: host shutdown"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-R\s+)?777\b`), safety.CategorySystemOperation, risk.High, "unsafe permissions: chmod 777"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`), safety.CategorySystemOperation, risk.High, "destructive command: fork bomb"},
	{regexp.MustCompile(`\bos\s*\.\s*(system|popen|exec\w*)\s*\(`), safety.CategorySystemOperation, risk.High, "code execution: os call"},
	{regexp.MustCompile(`\bsubprocess\s*\.\s*(call|run|Popen|check_output)\b`), safety.CategorySystemOperation, risk.High, "code execution: subprocess"},
	{regexp.MustCompile(`(^|[^.\w])(exec|eval)\s*\(`), safety.CategorySystemOperation, risk.High, "code execution: exec/eval"},

	// Sensitive paths
	{regexp.MustCompile(`(^|[\s"'=(:,\[])(/etc/|/usr/|/var/|~/)`), safety.CategorySystemOperation, risk.High, "sensitive path: system or home directory"},

	// Destructive data operations
	{regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE|SCHEMA|INDEX)\b`), safety.CategoryDataOperation, risk.High, "destructive data operation: DROP"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\s+(TABLE\s+)?\w+`), safety.CategoryDataOperation, risk.High, "destructive data operation: TRUNCATE"},
	{regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+\w+\s*(;|$|--)`), safety.CategoryDataOperation, risk.High, "destructive data operation: unbounded DELETE"},

	// Injection syntax
	{regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`), safety.CategoryInjection, risk.High, "SQL injection: UNION SELECT"},
	{regexp.MustCompile(`(?i)'\s*OR\s+'?1'?\s*=\s*'?1`), safety.CategoryInjection, risk.High, "SQL injection: tautology"},
	{regexp.MustCompile(`(?i)\bxp_cmdshell\b`), safety.CategoryInjection, risk.High, "SQL injection: xp_cmdshell"},
	{regexp.MustCompile(`[;&|]\s*(curl|wget|nc|ncat|bash|sh|zsh)\b`), safety.CategoryInjection, risk.High, "command injection: chained shell"},
	{regexp.MustCompile(`\$\([^)]+\)`), safety.CategoryInjection, risk.High, "command injection: $() substitution"},
	{regexp.MustCompile("`[^`\n]+`"), safety.CategoryInjection, risk.Medium, "command injection: backtick substitution"},
	{regexp.MustCompile(`(?i)<script\b`), safety.CategoryInjection, risk.High, "script injection: <script> tag"},
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+instructions`), safety.CategoryInjection, risk.High, "prompt injection: instruction override"},
	{regexp.MustCompile(`(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), safety.CategoryInjection, risk.High, "prompt injection: explicit bypass"},
	{regexp.MustCompile(`(?i)<\|im_start\|>system|\[SYSTEM\]`), safety.CategoryInjection, risk.High, "prompt injection: delimiter"},

	// Credential-like tokens
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), safety.CategoryCredential, risk.High, "credential: AWS access key"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}\b`), safety.CategoryCredential, risk.High, "credential: API secret key"},
	{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36}\b`), safety.CategoryCredential, risk.High, "credential: GitHub token"},
	{regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`), safety.CategoryCredential, risk.High, "credential: private key"},
	{regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key)"?\s*[:=]\s*"?[^\s"]{4,}`), safety.CategoryCredential, risk.High, "credential: secret assignment"},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}=*`), safety.CategoryCredential, risk.High, "credential: bearer token"},

	// External URLs
	{regexp.MustCompile(`(?i)\b(https?|ftp)://[^\s/$.?#][^\s]*`), safety.CategoryNetwork, risk.Medium, "external URL"},

	// Resource exhaustion
	{regexp.MustCompile(`while\s*\(?\s*(True|true|1)\s*\)?\s*[:{]`), safety.CategoryResource, risk.Medium, "resource: unbounded loop"},
	{regexp.MustCompile(`\bfor\s*\(\s*;\s*;\s*\)`), safety.CategoryResource, risk.Medium, "resource: unbounded loop"},
	{regexp.MustCompile(`range\s*\(\s*[0-9]{8,}\s*\)`), safety.CategoryResource, risk.Medium, "resource: oversized loop"},
	{regexp.MustCompile(`\[\s*0\s*\]\s*\*\s*\(?\s*([0-9]{8,}|10\s*\*\*\s*[0-9]+)`), safety.CategoryResource, risk.Medium, "resource: oversized allocation"},
}

// PatternCheck matches content against the unsafe signature table.
// Every matching signature yields one finding.
type PatternCheck struct{}

func NewPatternCheck() *PatternCheck {
	return &PatternCheck{}
}

func (c *PatternCheck) Name() string {
	return "pattern"
}

func (c *PatternCheck) Detect(ctx context.Context, req *safety.CheckRequest) ([]safety.Finding, error) {
	return matchSignatures(ctx, c.Name(), unsafeSignatures, req.Content), nil
}

// matchSignatures returns one finding per matching signature, stopping early
// if ctx is cancelled.
func matchSignatures(ctx context.Context, check string, sigs []signature, content string) []safety.Finding {
	var findings []safety.Finding
	for _, s := range sigs {
		if ctx.Err() != nil {
			break
		}
		if s.re.MatchString(content) {
			findings = append(findings, safety.Finding{
				Check:       check,
				Category:    s.category,
				Risk:        s.risk,
				Description: s.detail,
			})
		}
	}
	return findings
}
