package research

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Endpoints maps step names to research endpoint URLs. Loaded once at
// startup from a YAML file:
//
//	base_url: http://research:8900
//	health_path: /healthz
//	http_timeout: 10m
//	steps:
//	  calendar: /v1/steps/calendar
//	  people_research: /v1/steps/people-research
//
// Step values may be absolute URLs; relative paths resolve against base_url.
type Endpoints struct {
	BaseURL     string            `yaml:"base_url"`
	HealthPath  string            `yaml:"health_path"`
	HTTPTimeout Duration          `yaml:"http_timeout"`
	Steps       map[string]string `yaml:"steps"`
}

// LoadEndpoints reads and validates an endpoint map from a YAML file.
func LoadEndpoints(path string) (*Endpoints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}

	var e Endpoints
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	e.applyDefaults()
	return &e, nil
}

func (e *Endpoints) validate() error {
	if e.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(e.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if len(e.Steps) == 0 {
		return fmt.Errorf("at least one step endpoint is required")
	}
	for name, raw := range e.Steps {
		if raw == "" {
			return fmt.Errorf("step %q has an empty endpoint", name)
		}
	}
	return nil
}

func (e *Endpoints) applyDefaults() {
	if e.HealthPath == "" {
		e.HealthPath = "/healthz"
	}
	if e.HTTPTimeout <= 0 {
		e.HTTPTimeout = Duration(10 * time.Minute)
	}
}

// resolve returns the absolute URL for a step endpoint.
func (e *Endpoints) resolve(name string) (string, bool) {
	raw, ok := e.Steps[name]
	if !ok {
		return "", false
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, true
	}
	return strings.TrimSuffix(e.BaseURL, "/") + "/" + strings.TrimPrefix(raw, "/"), true
}

// healthURL returns the provider readiness probe URL.
func (e *Endpoints) healthURL() string {
	return strings.TrimSuffix(e.BaseURL, "/") + "/" + strings.TrimPrefix(e.HealthPath, "/")
}
