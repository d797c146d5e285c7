// Package workflow builds step plans for the three preparation shapes and
// owns the lifecycle of the goroutine that runs each job.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"meetingprep/internal/apperrors"
	"meetingprep/internal/job"
	"meetingprep/internal/observability"
	"meetingprep/internal/pipeline"
	"meetingprep/internal/step"
)

// Workflow shape names, also used as the metrics attribute.
const (
	WorkflowFull   = "full"
	WorkflowCustom = "custom"
	WorkflowAgenda = "agenda"
)

// Agenda focus modes.
const (
	FocusBlockers = "blockers"
	FocusDesign   = "design"
	FocusProgress = "progress"
	FocusPlanning = "planning"
	FocusBalanced = "balanced"
)

var focusModes = map[string]bool{
	FocusBlockers: true,
	FocusDesign:   true,
	FocusProgress: true,
	FocusPlanning: true,
	FocusBalanced: true,
}

// FullOptions controls the full preparation workflow.
type FullOptions struct {
	IncludeSlack  bool
	IncludeAgenda bool
	Callback      *pipeline.Callback
}

// CustomOptions controls the custom workflow: an explicit ordered step
// subset plus seed data pre-populating the inputs.
type CustomOptions struct {
	Steps    []string
	Seed     map[string]any
	Callback *pipeline.Callback
}

// AgendaOptions controls the agenda workflow.
type AgendaOptions struct {
	MeetingContext   string
	FocusMode        string
	ParticipantRoles map[string]string
	Callback         *pipeline.Callback
}

// Service starts jobs, answers status queries, and cancels runs on delete.
type Service struct {
	store    *job.Store
	registry *step.Registry
	exec     *pipeline.Executor
	metrics  *observability.Metrics
	sem      *semaphore.Weighted // nil = unlimited
	logger   *slog.Logger

	mu      sync.Mutex
	runners map[string]context.CancelFunc

	root    context.Context
	stop    context.CancelFunc
	running sync.WaitGroup
}

// NewService creates the workflow service. maxActive caps concurrently
// running jobs; zero or negative means no cap. metrics may be nil.
func NewService(store *job.Store, registry *step.Registry, exec *pipeline.Executor, metrics *observability.Metrics, maxActive int) *Service {
	root, stop := context.WithCancel(context.Background())
	s := &Service{
		store:    store,
		registry: registry,
		exec:     exec,
		metrics:  metrics,
		logger:   slog.With("component", "workflow"),
		runners:  make(map[string]context.CancelFunc),
		root:     root,
		stop:     stop,
	}
	if maxActive > 0 {
		s.sem = semaphore.NewWeighted(int64(maxActive))
	}
	return s
}

// StartFull starts the full preparation workflow and returns the job ID.
func (s *Service) StartFull(opts FullOptions) (string, error) {
	plan := []pipeline.PlannedStep{
		s.planned(step.Calendar, true),
		s.planned(step.PeopleResearch, true),
		s.planned(step.TechContext, true),
		s.planned(step.CommAnalysis, opts.IncludeSlack),
		s.planned(step.AgendaSynthesis, opts.IncludeAgenda),
		s.planned(step.Coordinator, true),
	}
	return s.start(WorkflowFull, plan, nil, nil, opts.Callback)
}

// StartCustom starts a custom workflow over an explicit ordered step subset.
// Unknown or duplicate step names are rejected before any job exists.
func (s *Service) StartCustom(opts CustomOptions) (string, error) {
	if len(opts.Steps) == 0 {
		return "", apperrors.Validation("steps", "at least one step is required")
	}
	seen := make(map[string]bool, len(opts.Steps))
	for _, name := range opts.Steps {
		if !s.registry.Has(name) {
			return "", apperrors.Validation("steps", fmt.Sprintf("unknown step %q", name))
		}
		if seen[name] {
			return "", apperrors.Validation("steps", fmt.Sprintf("duplicate step %q", name))
		}
		seen[name] = true
	}

	plan := make([]pipeline.PlannedStep, 0, len(opts.Steps))
	for _, name := range opts.Steps {
		plan = append(plan, s.planned(name, true))
	}

	seed := make(step.Inputs, len(opts.Seed))
	for k, v := range opts.Seed {
		seed[k] = v
	}
	return s.start(WorkflowCustom, plan, seed, opts.Steps, opts.Callback)
}

// StartAgenda starts the agenda preparation workflow. The briefing step runs
// only when participant roles are supplied.
func (s *Service) StartAgenda(opts AgendaOptions) (string, error) {
	if opts.MeetingContext == "" {
		return "", apperrors.Validation("meeting_context", "meeting_context is required")
	}
	mode := opts.FocusMode
	if mode == "" {
		mode = FocusBalanced
	}
	if !focusModes[mode] {
		return "", apperrors.Validation("focus_mode", fmt.Sprintf("unknown focus mode %q", opts.FocusMode))
	}

	plan := []pipeline.PlannedStep{
		s.planned(step.AgendaBuild, true),
		s.planned(step.PrereadCollect, true),
		s.planned(step.ContextBriefing, len(opts.ParticipantRoles) > 0),
	}

	seed := step.Inputs{
		step.KeyMeetingContext: opts.MeetingContext,
		step.KeyFocusMode:      mode,
	}
	if len(opts.ParticipantRoles) > 0 {
		seed[step.KeyParticipantRoles] = opts.ParticipantRoles
	}
	return s.start(WorkflowAgenda, plan, seed, nil, opts.Callback)
}

// GetJob returns a full snapshot of the job record.
func (s *Service) GetJob(id string) (*job.Record, error) {
	return s.store.Get(id)
}

// ListJobs returns lightweight summaries of every retained job.
func (s *Service) ListJobs() []job.Summary {
	return s.store.List()
}

// DeleteJob cancels any in-flight run and removes the record. The record is
// removed before the run is cancelled so the executor's terminal write finds
// nothing to mutate.
func (s *Service) DeleteJob(id string) error {
	rec, err := s.store.Get(id)
	if err != nil {
		return err
	}

	s.store.Delete(id)

	s.mu.Lock()
	cancel, active := s.runners[id]
	s.mu.Unlock()
	if active {
		cancel()
	}

	if active && !rec.Terminal() && s.metrics != nil {
		s.metrics.RecordJobCancelled(context.Background(), rec.Type())
	}
	s.logger.Info("Job deleted", "job_id", id, "was_running", active)
	return nil
}

// Steps returns the registered step descriptors.
func (s *Service) Steps() []step.Descriptor {
	return s.registry.Descriptors()
}

// ActiveRuns returns the number of jobs currently executing.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runners)
}

// Shutdown cancels all in-flight runs and waits for their goroutines, up to
// the context deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// planned binds a catalog step into a plan entry. The registry is built from
// the catalog at startup, so a missing name is a programming error.
func (s *Service) planned(name string, enabled bool) pipeline.PlannedStep {
	desc, exec, ok := s.registry.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("step %q not in registry", name))
	}
	return pipeline.PlannedStep{Desc: desc, Exec: exec, Enabled: enabled}
}

// start applies the admission cap, creates the record, and spawns the run
// goroutine. The job ID is returned immediately; execution is asynchronous.
func (s *Service) start(workflow string, plan []pipeline.PlannedStep, seed step.Inputs, requested []string, cb *pipeline.Callback) (string, error) {
	if s.sem != nil && !s.sem.TryAcquire(1) {
		return "", apperrors.Conflict("job", "", "too many active jobs, retry later")
	}

	total := 0
	first := ""
	for _, p := range plan {
		if p.Enabled {
			if first == "" {
				first = p.Desc.Name
			}
			total++
		}
	}

	rec := s.store.Create(total, requested)

	// Point current_step at the head of the plan so listings show the shape
	// of the job before the goroutine gets scheduled.
	if err := s.store.Update(rec.ID, func(r *job.Record) {
		r.Progress.CurrentStep = first
	}); err != nil {
		if s.sem != nil {
			s.sem.Release(1)
		}
		return "", err
	}

	runCtx, cancel := context.WithCancel(s.root)
	s.mu.Lock()
	s.runners[rec.ID] = cancel
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordJobCreated(context.Background(), workflow)
	}
	s.logger.Info("Job started", "job_id", rec.ID, "workflow", workflow, "total_steps", total)

	s.running.Add(1)
	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.runners, rec.ID)
			s.mu.Unlock()
			if s.sem != nil {
				s.sem.Release(1)
			}
			s.running.Done()
		}()

		if err := s.exec.Run(runCtx, rec.ID, workflow, plan, seed, cb); err != nil {
			s.logger.Debug("Run ended early", "job_id", rec.ID, "reason", err)
		}
	}()

	return rec.ID, nil
}
