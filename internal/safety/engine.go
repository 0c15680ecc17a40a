package safety

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultCheckTimeout is the max time checks get to complete.
const DefaultCheckTimeout = 50 * time.Millisecond

// engine fans out a request to all checks in parallel and unions their findings.
type engine struct {
	checks  []Check
	timeout time.Duration
	logger  *zap.Logger
}

// checkOutput holds a single check's findings alongside its name.
type checkOutput struct {
	name     string
	findings []Finding
	err      error
}

// run executes every check in parallel and returns the union of their findings
// plus the names of checks that failed or missed the deadline.
//
// Each goroutine sends into a buffered channel sized for all checks, so a
// check finishing after the deadline never blocks.
func (e *engine) run(ctx context.Context, req *CheckRequest) ([]Finding, []string) {
	if len(e.checks) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan checkOutput, len(e.checks))

	for _, c := range e.checks {
		go func(c Check) {
			findings, err := c.Detect(ctx, req)
			ch <- checkOutput{name: c.Name(), findings: findings, err: err}
		}(c)
	}

	var findings []Finding
	done := make(map[string]bool, len(e.checks))
	remaining := len(e.checks)
	for remaining > 0 {
		select {
		case out := <-ch:
			remaining--
			if out.err != nil {
				// Left out of done, so the check counts as incomplete.
				e.logger.Warn("safety check error",
					zap.String("check", out.name),
					zap.Error(out.err),
				)
				continue
			}
			done[out.name] = true
			for _, f := range out.findings {
				if f.Check == "" {
					f.Check = out.name
				}
				findings = append(findings, f)
			}
		case <-ctx.Done():
			e.logger.Warn("safety check timeout exceeded",
				zap.Duration("timeout", e.timeout),
				zap.Int("pending", remaining),
			)
			remaining = 0
		}
	}

	var incomplete []string
	for _, c := range e.checks {
		if !done[c.Name()] {
			incomplete = append(incomplete, c.Name())
		}
	}
	return findings, incomplete
}
