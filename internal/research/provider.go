// Package research implements the HTTP-backed step provider. Each research
// step is an external collaborator reached over HTTP; this package only
// defines the boundary contract, not the research itself.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"meetingprep/internal/step"
)

// Provider executes steps by POSTing their inputs to configured research
// endpoints.
type Provider struct {
	endpoints *Endpoints
	client    *http.Client
}

// NewProvider creates an HTTP step provider from a loaded endpoint map.
func NewProvider(e *Endpoints) *Provider {
	return &Provider{
		endpoints: e,
		client: &http.Client{
			// The per-step deadline comes in through the context; this is a
			// backstop against endpoints that never answer.
			Timeout: time.Duration(e.HTTPTimeout),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Step returns an executable bound to the step's configured endpoint.
// Steps without an endpoint fail here, at startup, not mid-pipeline.
func (p *Provider) Step(name string) (step.Step, error) {
	endpoint, ok := p.endpoints.resolve(name)
	if !ok {
		return nil, fmt.Errorf("no endpoint configured for step %q", name)
	}
	return &httpStep{name: name, endpoint: endpoint, client: p.client}, nil
}

// Ready probes the research backend's health endpoint.
func (p *Provider) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoints.healthURL(), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("research backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("research backend unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ step.Provider = (*Provider)(nil)

// executeRequest is the wire format sent to a research endpoint.
type executeRequest struct {
	Step   string         `json:"step"`
	Inputs map[string]any `json:"inputs"`
}

// executeResponse is the wire format a research endpoint answers with.
type executeResponse struct {
	Output any    `json:"output"`
	Error  string `json:"error,omitempty"`
}

type httpStep struct {
	name     string
	endpoint string
	client   *http.Client
}

// Execute POSTs the accumulated inputs to the step's endpoint and returns
// the endpoint's output value.
func (s *httpStep) Execute(ctx context.Context, in step.Inputs) (any, error) {
	body, err := json.Marshal(executeRequest{Step: s.name, Inputs: in})
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("endpoint returned HTTP %d: %s", resp.StatusCode, truncate(payload, 256))
	}

	var out executeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("endpoint error: %s", out.Error)
	}
	return out.Output, nil
}

// maxResponseSize caps step outputs at 8MB to protect the in-memory store.
const maxResponseSize = 8 << 20

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
