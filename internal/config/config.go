// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// Provider selects the step provider backing the registry.
type Provider string

const (
	// ProviderHTTP executes steps by calling external research endpoints.
	ProviderHTTP Provider = "http"
	// ProviderStub executes steps with canned in-process outputs.
	ProviderStub Provider = "stub"
)

// ServiceConfig holds configuration for the prep service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	StepProvider  Provider      // which step provider to build at startup
	StepTimeout   time.Duration // deadline applied to each step execution
	MaxActiveJobs int           // cap on concurrently running jobs (0 = unbounded)

	JobRetention      time.Duration // how long terminal jobs are retained
	RetentionSchedule string        // cron spec for the retention sweeper

	EndpointsFile string // YAML file mapping step names to research endpoints
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		StepProvider:      Provider(GetEnv("STEP_PROVIDER", string(ProviderStub))),
		StepTimeout:       GetDurationEnv("STEP_TIMEOUT", 5*time.Minute),
		MaxActiveJobs:     GetIntEnv("MAX_ACTIVE_JOBS", 0),
		JobRetention:      GetDurationEnv("JOB_RETENTION", 24*time.Hour),
		RetentionSchedule: GetEnv("RETENTION_SCHEDULE", "@every 10m"),
		EndpointsFile:     GetEnv("RESEARCH_ENDPOINTS_FILE", ""),
	}
}
