package agents

import (
	"context"
	"fmt"
	"strings"
)

// FallbackConfidence is reported when no agent's keywords match.
const FallbackConfidence = 0.5

// Route is a routing decision.
type Route struct {
	AgentID    string  `json:"agent_id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Router picks an agent for a message.
type Router interface {
	Route(ctx context.Context, message string) (Route, error)
}

// KeywordRouter scores each agent by the fraction of its keywords present in
// the message and picks the best. Ties go to the lower agent id.
type KeywordRouter struct {
	catalog *Catalog
}

// NewKeywordRouter creates a router over catalog.
func NewKeywordRouter(catalog *Catalog) *KeywordRouter {
	return &KeywordRouter{catalog: catalog}
}

func (r *KeywordRouter) Route(_ context.Context, message string) (Route, error) {
	msg := strings.ToLower(message)

	var best Descriptor
	bestScore := 0.0
	for _, d := range r.catalog.List() {
		if len(d.Keywords) == 0 {
			continue
		}
		matched := 0
		for _, kw := range d.Keywords {
			if strings.Contains(msg, strings.ToLower(kw)) {
				matched++
			}
		}
		score := float64(matched) / float64(len(d.Keywords))
		if score > bestScore {
			best, bestScore = d, score
		}
	}

	if bestScore > 0 {
		return Route{
			AgentID:    best.ID,
			Confidence: bestScore,
			Reason:     fmt.Sprintf("matched keywords for %s agent", best.Role),
		}, nil
	}

	fb, ok := r.catalog.Fallback()
	if !ok {
		return Route{}, fmt.Errorf("Route: %w: catalog is empty", ErrUnknownAgent)
	}
	return Route{
		AgentID:    fb.ID,
		Confidence: FallbackConfidence,
		Reason:     "no clear match, defaulting to " + fb.ID,
	}, nil
}
