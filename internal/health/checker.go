// Package health provides liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker verifies a dependency is ready to serve work.
// Implemented by the step registry, which delegates to its provider.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a single check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response body.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Checker performs health checks against the step provider.
type Checker struct {
	provider ReadinessChecker
	timeout  time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker over the step provider.
func NewChecker(provider ReadinessChecker) *Checker {
	return &Checker{
		provider: provider,
		timeout:  5 * time.Second,
	}
}

// Liveness reports whether the process is alive. It never touches external
// dependencies; failing it should restart the service.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness reports whether the service can accept new jobs. It checks the
// step provider's backend and caches the result briefly so probes don't
// hammer the research endpoints.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	providerCheck := c.checkProvider(ctx)
	status := StatusHealthy
	if providerCheck.Status != StatusHealthy {
		status = StatusUnhealthy
	}

	response := &Response{
		Status: status,
		Checks: map[string]CheckResult{"step_provider": providerCheck},
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

// checkProvider verifies the step provider's backend is reachable.
func (c *Checker) checkProvider(ctx context.Context) CheckResult {
	if c.provider == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "step provider not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.provider.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// SetShuttingDown makes readiness fail so load balancers stop routing new
// work while in-flight jobs drain.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
