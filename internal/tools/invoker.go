package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var ErrNoEndpoint = errors.New("tool has no endpoint")

// HTTPInvoker calls a tool by POSTing its parameters as JSON to the
// descriptor's endpoint. The response body is decoded as JSON.
// Cancellation and deadlines come from ctx.
type HTTPInvoker struct {
	Client *http.Client
}

// NewHTTPInvoker creates an invoker whose client has no overall timeout.
func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{Client: &http.Client{}}
}

// Invoke runs the tool and returns its decoded output.
func (i *HTTPInvoker) Invoke(ctx context.Context, d Descriptor, params map[string]any) (any, error) {
	if d.Endpoint == "" {
		return nil, fmt.Errorf("Invoke: %w: %s", ErrNoEndpoint, d.ID)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("Invoke: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Invoke: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tool-Id", d.ID)

	resp, err := i.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Invoke: %s: %w", d.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("Invoke: %s: status %d: %s", d.ID, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("Invoke: %s: decode: %w", d.ID, err)
	}
	return out, nil
}
