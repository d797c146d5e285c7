package api

import (
	"net/http"

	"meetingprep/internal/health"
	"meetingprep/internal/observability"
	"meetingprep/internal/workflow"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Service       *workflow.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter builds the HTTP router with the full middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Service, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Probes are unauthenticated.
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// API endpoints require the bearer token when one is configured.
	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/meetings/prepare", auth(http.HandlerFunc(handler.PrepareMeeting)))
	mux.Handle("POST /v1/meetings/prepare-custom", auth(http.HandlerFunc(handler.PrepareCustom)))
	mux.Handle("POST /v1/agenda/prepare", auth(http.HandlerFunc(handler.PrepareAgenda)))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("GET /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.DeleteJob)))
	mux.Handle("GET /v1/steps", auth(http.HandlerFunc(handler.ListSteps)))

	// Middleware chain, outermost first.
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
