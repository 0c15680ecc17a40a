// Package agents holds the agent catalog and the default routing and
// processing collaborators used by the orchestrator.
package agents

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrDuplicateAgent = errors.New("duplicate agent")
)

// Descriptor describes an agent. Immutable after load.
type Descriptor struct {
	ID           string     `yaml:"id" json:"id"`
	Role         string     `yaml:"role" json:"role"`
	Capabilities []string   `yaml:"capabilities" json:"capabilities,omitempty"`
	RiskHint     risk.Level `yaml:"risk" json:"risk"`
	Endpoint     string     `yaml:"endpoint" json:"endpoint,omitempty"`
	Keywords     []string   `yaml:"keywords" json:"keywords,omitempty"` // routing hints
	Default      bool       `yaml:"default" json:"default,omitempty"`   // fallback route
}

// Has reports whether the agent declares capability c.
func (d Descriptor) Has(c string) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Catalog is a read-only set of agents keyed by id.
type Catalog struct {
	byID     map[string]Descriptor
	fallback string
}

// NewCatalog validates descs and indexes them. The first agent marked
// Default, or else the first agent, is the routing fallback.
func NewCatalog(descs []Descriptor) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("NewCatalog: agent with empty id")
		}
		if _, ok := c.byID[d.ID]; ok {
			return nil, fmt.Errorf("NewCatalog: %w: %s", ErrDuplicateAgent, d.ID)
		}
		c.byID[d.ID] = d
		if d.Default && c.fallback == "" {
			c.fallback = d.ID
		}
	}
	if c.fallback == "" && len(descs) > 0 {
		c.fallback = descs[0].ID
	}
	return c, nil
}

// Get returns the agent with the given id.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Fallback returns the default routing target.
func (c *Catalog) Fallback() (Descriptor, bool) {
	return c.Get(c.fallback)
}

// List returns all agents sorted by id.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.byID))
	for _, d := range c.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type agentFile struct {
	Agents []Descriptor `yaml:"agents"`
}

// LoadFile reads a YAML file with a top-level "agents" list.
func LoadFile(path string) ([]Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: %w", err)
	}
	var f agentFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("LoadFile: %w", err)
	}
	return f.Agents, nil
}

// DefaultAgents is the built-in catalog used when no agents file is
// configured: a coder, a researcher and a task coordinator.
func DefaultAgents() []Descriptor {
	return []Descriptor{
		{
			ID:           "coder",
			Role:         "code",
			Capabilities: []string{"code_execution", "file_read", "file_write"},
			RiskHint:     risk.Medium,
			Keywords:     []string{"code", "function", "bug", "error", "programming"},
		},
		{
			ID:           "researcher",
			Role:         "research",
			Capabilities: []string{"web_search", "file_read"},
			RiskHint:     risk.Low,
			Keywords:     []string{"research", "information", "find", "search"},
		},
		{
			ID:           "coordinator",
			Role:         "task",
			Capabilities: []string{"planning"},
			RiskHint:     risk.Low,
			Keywords:     []string{"task", "plan", "coordinate", "manage"},
			Default:      true,
		},
	}
}
