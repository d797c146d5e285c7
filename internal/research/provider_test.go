package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meetingprep/internal/step"
)

func testEndpoints(baseURL string) *Endpoints {
	e := &Endpoints{
		BaseURL: baseURL,
		Steps: map[string]string{
			"calendar": "/steps/calendar",
			"failing":  "/steps/failing",
			"absolute": baseURL + "/steps/absolute",
		},
	}
	e.applyDefaults()
	return e
}

func TestLoadEndpoints(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yaml")
	content := `
base_url: http://research:8900
http_timeout: 2m
steps:
  calendar: /v1/steps/calendar
  people_research: https://other-host/people
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := LoadEndpoints(path)
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := e.resolve("calendar"); got != "http://research:8900/v1/steps/calendar" {
		t.Errorf("unexpected resolved URL %q", got)
	}
	if got, _ := e.resolve("people_research"); got != "https://other-host/people" {
		t.Errorf("absolute URL should pass through, got %q", got)
	}
	if _, ok := e.resolve("unknown"); ok {
		t.Error("expected resolve miss for unknown step")
	}
	if e.HealthPath != "/healthz" {
		t.Errorf("expected default health path, got %q", e.HealthPath)
	}
}

func TestLoadEndpointsRejectsInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"missing base_url", "steps:\n  calendar: /x\n"},
		{"no steps", "base_url: http://research:8900\n"},
		{"empty endpoint", "base_url: http://research:8900\nsteps:\n  calendar: \"\"\n"},
		{"malformed yaml", "base_url: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadEndpoints(path); err == nil {
				t.Error("expected load to fail")
			}
		})
	}
}

func TestHTTPStepExecute(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/steps/calendar":
			var req executeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad request body: %v", err)
			}
			if req.Step != "calendar" {
				t.Errorf("expected step calendar, got %q", req.Step)
			}
			if req.Inputs["seed"] != "hello" {
				t.Errorf("inputs not forwarded: %v", req.Inputs)
			}
			json.NewEncoder(w).Encode(executeResponse{Output: "three meetings today"})
		case "/steps/failing":
			json.NewEncoder(w).Encode(executeResponse{Error: "upstream quota exceeded"})
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewProvider(testEndpoints(srv.URL))
	defer p.Close()

	s, err := p.Step("calendar")
	if err != nil {
		t.Fatal(err)
	}
	out, err := s.Execute(context.Background(), step.Inputs{"seed": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "three meetings today" {
		t.Errorf("unexpected output %v", out)
	}
}

func TestHTTPStepEndpointError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executeResponse{Error: "upstream quota exceeded"})
	}))
	defer srv.Close()

	p := NewProvider(testEndpoints(srv.URL))
	defer p.Close()

	s, _ := p.Step("failing")
	_, err := s.Execute(context.Background(), step.Inputs{})
	if err == nil || !strings.Contains(err.Error(), "upstream quota exceeded") {
		t.Errorf("expected endpoint error, got %v", err)
	}
}

func TestHTTPStepNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProvider(testEndpoints(srv.URL))
	defer p.Close()

	s, _ := p.Step("calendar")
	_, err := s.Execute(context.Background(), step.Inputs{})
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("expected HTTP 500 error, got %v", err)
	}
}

func TestStepWithoutEndpoint(t *testing.T) {
	t.Parallel()
	p := NewProvider(testEndpoints("http://research:8900"))
	defer p.Close()

	if _, err := p.Step("unconfigured"); err == nil {
		t.Error("expected error for unconfigured step")
	}
}

func TestReady(t *testing.T) {
	t.Parallel()
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p := NewProvider(testEndpoints(srv.URL))
	defer p.Close()

	if err := p.Ready(context.Background()); err != nil {
		t.Errorf("expected ready, got %v", err)
	}

	healthy = false
	if err := p.Ready(context.Background()); err == nil {
		t.Error("expected unhealthy backend to fail readiness")
	}
}

func TestExecuteHonorsContext(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p := NewProvider(testEndpoints(srv.URL))
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := p.Step("calendar")
	if _, err := s.Execute(ctx, step.Inputs{}); err == nil {
		t.Error("expected cancelled execution to fail")
	}
}
