package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrNoEndpoint = errors.New("agent has no endpoint")

// Request is the message handed to an agent.
type Request struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	FromAgentID    string `json:"from_agent_id,omitempty"` // set on handoff
}

// Reply is an agent's answer.
type Reply struct {
	Text       string         `json:"text"`
	Structured map[string]any `json:"structured,omitempty"`
}

// Processor runs a message on an agent.
type Processor interface {
	Process(ctx context.Context, agent Descriptor, req Request) (Reply, error)
}

// Handoffer transfers a conversation between agents.
type Handoffer interface {
	Handoff(ctx context.Context, from, to Descriptor, req Request) error
}

// EchoProcessor answers locally without calling out. Used for agents with no
// endpoint.
type EchoProcessor struct{}

func (EchoProcessor) Process(_ context.Context, agent Descriptor, req Request) (Reply, error) {
	return Reply{
		Text:       fmt.Sprintf("[%s] %s", agent.Role, req.Message),
		Structured: map[string]any{"agent_id": agent.ID, "echo": true},
	}, nil
}

func (EchoProcessor) Handoff(context.Context, Descriptor, Descriptor, Request) error {
	return nil
}

// HTTPProcessor posts requests as JSON to the agent's endpoint. Agents
// without an endpoint go to Local when it is set.
type HTTPProcessor struct {
	Client *http.Client
	Local  Processor
}

// NewHTTPProcessor creates a processor with a bounded HTTP client that falls
// back to EchoProcessor for local agents.
func NewHTTPProcessor(timeout time.Duration) *HTTPProcessor {
	return &HTTPProcessor{
		Client: &http.Client{Timeout: timeout},
		Local:  EchoProcessor{},
	}
}

func (p *HTTPProcessor) Process(ctx context.Context, agent Descriptor, req Request) (Reply, error) {
	if agent.Endpoint == "" {
		if p.Local != nil {
			return p.Local.Process(ctx, agent, req)
		}
		return Reply{}, fmt.Errorf("Process: %w: %s", ErrNoEndpoint, agent.ID)
	}
	var reply Reply
	if err := p.post(ctx, agent.Endpoint+"/process", req, &reply); err != nil {
		return Reply{}, fmt.Errorf("Process: %s: %w", agent.ID, err)
	}
	return reply, nil
}

func (p *HTTPProcessor) Handoff(ctx context.Context, from, to Descriptor, req Request) error {
	if to.Endpoint == "" {
		return nil
	}
	req.FromAgentID = from.ID
	if err := p.post(ctx, to.Endpoint+"/handoff", req, nil); err != nil {
		return fmt.Errorf("Handoff: %s: %w", to.ID, err)
	}
	return nil
}

func (p *HTTPProcessor) post(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
