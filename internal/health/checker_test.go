package health

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	err error
}

func (f *fakeProvider) Ready(ctx context.Context) error { return f.err }

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	response := checker.Liveness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness_NoProvider(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	response := checker.Readiness(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy status, got %s", response.Status)
	}

	check, ok := response.Checks["step_provider"]
	if !ok {
		t.Fatal("Expected step_provider check to be present")
	}
	if check.Status != StatusUnhealthy {
		t.Errorf("Expected step_provider check to be unhealthy, got %s", check.Status)
	}
}

func TestChecker_Readiness_HealthyProvider(t *testing.T) {
	t.Parallel()
	checker := NewChecker(&fakeProvider{})

	response := checker.Readiness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness_UnreachableProvider(t *testing.T) {
	t.Parallel()
	checker := NewChecker(&fakeProvider{err: errors.New("connection refused")})

	response := checker.Readiness(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy status, got %s", response.Status)
	}
	if response.Checks["step_provider"].Message != "connection refused" {
		t.Errorf("Expected provider error message, got %q", response.Checks["step_provider"].Message)
	}
}

func TestChecker_Readiness_ShuttingDown(t *testing.T) {
	t.Parallel()
	checker := NewChecker(&fakeProvider{})
	checker.SetShuttingDown()

	response := checker.Readiness(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy status during shutdown, got %s", response.Status)
	}
	if _, ok := response.Checks["shutdown"]; !ok {
		t.Error("Expected shutdown check to be present")
	}
}

func TestResponse_IsHealthy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"healthy", StatusHealthy, true},
		{"unhealthy", StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := &Response{Status: tt.status}
			if response.IsHealthy() != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", response.IsHealthy(), tt.expected)
			}
		})
	}
}
