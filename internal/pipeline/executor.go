// Package pipeline runs a planned sequence of research steps against the job
// store, turning step outcomes into record state and lifecycle events.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"meetingprep/internal/apperrors"
	"meetingprep/internal/dispatcher"
	"meetingprep/internal/job"
	"meetingprep/internal/observability"
	"meetingprep/internal/step"
)

// PlannedStep is one entry of a workflow plan: the descriptor, its bound
// executable, and whether gating enabled it for this run. Disabled steps are
// skipped without touching progress.
type PlannedStep struct {
	Desc    step.Descriptor
	Exec    step.Step
	Enabled bool
}

// Executor drives one job's plan to a terminal state. It is stateless across
// jobs and safe for concurrent Run calls.
type Executor struct {
	store       *job.Store
	metrics     *observability.Metrics
	dispatch    dispatcher.Dispatcher
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an executor. metrics and dispatch may be nil.
func NewExecutor(store *job.Store, metrics *observability.Metrics, dispatch dispatcher.Dispatcher, stepTimeout time.Duration) *Executor {
	return &Executor{
		store:       store,
		metrics:     metrics,
		dispatch:    dispatch,
		stepTimeout: stepTimeout,
		logger:      slog.With("component", "pipeline"),
	}
}

// Run executes the plan sequentially for jobID. Each enabled step sees the
// accumulated inputs of all prior steps plus the seed data. The first failing
// step marks the job failed with partial results retained; current_step stays
// on the failing step. Run returns nil for both completed and failed jobs —
// an error means the run could not proceed at all (job deleted mid-run or
// context cancelled).
func (e *Executor) Run(ctx context.Context, jobID string, workflow string, plan []PlannedStep, seed step.Inputs, cb *Callback) error {
	logger := e.logger.With("job_id", jobID, "workflow", workflow)
	events := &emitter{jobID: jobID, callback: cb, dispatch: e.dispatch, logger: logger}
	start := time.Now()

	inputs := make(step.Inputs, len(seed))
	for k, v := range seed {
		inputs[k] = v
	}

	if err := e.store.Update(jobID, func(r *job.Record) {
		r.Status = job.StatusRunning
	}); err != nil {
		logger.Warn("Job gone before run started", "error", err)
		return err
	}

	logger.Info("Job running", "steps", enabledCount(plan))
	events.emit(EventStart, map[string]any{
		"status":      job.StatusRunning,
		"workflow":    workflow,
		"total_steps": enabledCount(plan),
	})

	completed := 0
	for _, planned := range plan {
		if !planned.Enabled {
			if e.metrics != nil {
				e.metrics.RecordStepSkipped(ctx, planned.Desc.Name)
			}
			logger.Debug("Step skipped", "step", planned.Desc.Name)
			continue
		}

		select {
		case <-ctx.Done():
			return e.abort(ctx, jobID, workflow, events, start, ctx.Err())
		default:
		}

		name := planned.Desc.Name
		if err := e.store.Update(jobID, func(r *job.Record) {
			r.Progress.CurrentStep = name
		}); err != nil {
			logger.Warn("Job gone mid-run, aborting", "step", name, "error", err)
			return err
		}

		out, err := e.executeStep(ctx, planned, inputs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return e.abort(ctx, jobID, workflow, events, start, err)
			}
			return e.fail(ctx, jobID, workflow, name, events, start, err)
		}

		inputs[name] = out
		if planned.Desc.Produces != name {
			inputs[planned.Desc.Produces] = out
		}
		completed++

		if err := e.store.Update(jobID, func(r *job.Record) {
			r.Results[name] = out
			if planned.Desc.Produces != name {
				r.Results[planned.Desc.Produces] = out
			}
			r.Progress.CompletedSteps = append(r.Progress.CompletedSteps, name)
		}); err != nil {
			logger.Warn("Job gone mid-run, aborting", "step", name, "error", err)
			return err
		}

		logger.Info("Step completed", "step", name)
		events.emit(EventStep, map[string]any{
			"step":            name,
			"completed_steps": completed,
			"total_steps":     enabledCount(plan),
		})
	}

	if err := e.store.Update(jobID, func(r *job.Record) {
		r.Status = job.StatusCompleted
		r.Progress.CurrentStep = ""
	}); err != nil {
		logger.Warn("Job gone at completion", "error", err)
		return err
	}

	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordJobFinished(ctx, workflow, true, duration.Seconds())
	}
	logger.Info("Job completed", "duration", duration, "steps", completed)
	events.emit(EventExit, map[string]any{
		"status":   job.StatusCompleted,
		"workflow": workflow,
		"duration": duration.Seconds(),
	})
	return nil
}

// executeStep runs one step under the per-step deadline and records metrics.
func (e *Executor) executeStep(ctx context.Context, planned PlannedStep, inputs step.Inputs) (any, error) {
	stepCtx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := planned.Exec.Execute(stepCtx, inputs)
	if e.metrics != nil {
		e.metrics.RecordStepExecuted(ctx, planned.Desc.Name, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fail marks the job failed. current_step is left pointing at the failing
// step; results written so far are retained.
func (e *Executor) fail(ctx context.Context, jobID, workflow, stepName string, events *emitter, start time.Time, cause error) error {
	stepErr := apperrors.StepFailed(stepName, cause)

	if err := e.store.Update(jobID, func(r *job.Record) {
		r.Status = job.StatusFailed
		r.Error = stepErr.Error()
	}); err != nil {
		e.logger.Warn("Job gone at failure", "job_id", jobID, "error", err)
		return err
	}

	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordJobFinished(ctx, workflow, false, duration.Seconds())
	}
	e.logger.Warn("Job failed", "job_id", jobID, "step", stepName, "error", cause)
	events.emit(EventExit, map[string]any{
		"status":   job.StatusFailed,
		"workflow": workflow,
		"step":     stepName,
		"error":    stepErr.Error(),
		"duration": duration.Seconds(),
	})
	return nil
}

// abort handles cancellation: the job is marked failed with a cancellation
// error unless it was already deleted.
func (e *Executor) abort(ctx context.Context, jobID, workflow string, events *emitter, start time.Time, cause error) error {
	err := e.store.Update(jobID, func(r *job.Record) {
		r.Status = job.StatusFailed
		r.Error = "job cancelled"
	})
	if err != nil {
		// Deleted mid-run: DeleteJob already accounted for the cancellation.
		return cause
	}

	if e.metrics != nil {
		e.metrics.RecordJobFinished(context.WithoutCancel(ctx), workflow, false, time.Since(start).Seconds())
	}
	e.logger.Info("Job cancelled", "job_id", jobID)
	events.emit(EventExit, map[string]any{
		"status":   job.StatusFailed,
		"workflow": workflow,
		"error":    "job cancelled",
	})
	return cause
}

func enabledCount(plan []PlannedStep) int {
	n := 0
	for _, p := range plan {
		if p.Enabled {
			n++
		}
	}
	return n
}
