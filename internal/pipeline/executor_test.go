package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"meetingprep/internal/apperrors"
	"meetingprep/internal/dispatcher"
	"meetingprep/internal/job"
	"meetingprep/internal/step"
)

// captureDispatcher records dispatched events in memory.
type captureDispatcher struct {
	mu     sync.Mutex
	events []*dispatcher.Event
}

func (c *captureDispatcher) Dispatch(e *dispatcher.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureDispatcher) Stats() dispatcher.Stats         { return dispatcher.Stats{} }
func (c *captureDispatcher) Close(ctx context.Context) error { return nil }

func (c *captureDispatcher) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Payload.Type
	}
	return out
}

func constStep(out any) step.Step {
	return step.Func(func(ctx context.Context, in step.Inputs) (any, error) {
		return out, nil
	})
}

func planOf(steps ...PlannedStep) []PlannedStep { return steps }

func enabled(name, produces string, exec step.Step) PlannedStep {
	return PlannedStep{
		Desc:    step.Descriptor{Name: name, Produces: produces},
		Exec:    exec,
		Enabled: true,
	}
}

func TestRunCompletes(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	exec := NewExecutor(store, nil, nil, time.Minute)

	plan := planOf(
		enabled("calendar", "calendar", constStep("cal-out")),
		enabled("coordinator", "final_output", constStep("final")),
	)
	rec := store.Create(2, nil)

	if err := exec.Run(context.Background(), rec.ID, "full", plan, nil, nil); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Progress.CurrentStep != "" {
		t.Errorf("current_step should be cleared, got %q", got.Progress.CurrentStep)
	}
	if len(got.Progress.CompletedSteps) != 2 || got.Progress.CompletedSteps[0] != "calendar" {
		t.Errorf("unexpected completed steps: %v", got.Progress.CompletedSteps)
	}
	if got.Results["calendar"] != "cal-out" {
		t.Errorf("missing calendar result: %v", got.Results)
	}
	// Synthesis output lands under both the step name and its result key.
	if got.Results["coordinator"] != "final" || got.Results["final_output"] != "final" {
		t.Errorf("coordinator result not mirrored to final_output: %v", got.Results)
	}
}

func TestRunStepSeesAccumulatedInputs(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	exec := NewExecutor(store, nil, nil, time.Minute)

	var seen step.Inputs
	plan := planOf(
		enabled("calendar", "calendar", constStep("cal-out")),
		enabled("people_research", "people_research", step.Func(func(ctx context.Context, in step.Inputs) (any, error) {
			seen = in
			return "people-out", nil
		})),
	)
	rec := store.Create(2, nil)
	seed := step.Inputs{"meeting_context": "quarterly review"}

	if err := exec.Run(context.Background(), rec.ID, "full", plan, seed, nil); err != nil {
		t.Fatal(err)
	}

	if seen["calendar"] != "cal-out" {
		t.Errorf("step did not see prior result: %v", seen)
	}
	if seen["meeting_context"] != "quarterly review" {
		t.Errorf("step did not see seed data: %v", seen)
	}

	got, _ := store.Get(rec.ID)
	if _, ok := got.Results["meeting_context"]; ok {
		t.Error("seed data must not leak into stored results")
	}
}

func TestRunStepFailure(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	exec := NewExecutor(store, nil, nil, time.Minute)

	boom := errors.New("backend exploded")
	plan := planOf(
		enabled("calendar", "calendar", constStep("cal-out")),
		enabled("coordinator", "final_output", step.Func(func(ctx context.Context, in step.Inputs) (any, error) {
			return nil, boom
		})),
	)
	rec := store.Create(2, nil)

	if err := exec.Run(context.Background(), rec.ID, "full", plan, nil, nil); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(rec.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Progress.CurrentStep != "coordinator" {
		t.Errorf("current_step should stay on failing step, got %q", got.Progress.CurrentStep)
	}
	if got.Results["calendar"] != "cal-out" {
		t.Error("partial results must be retained")
	}
	if _, ok := got.Results["final_output"]; ok {
		t.Error("failed step must not write results")
	}
	if !strings.Contains(got.Error, "coordinator") || !strings.Contains(got.Error, "backend exploded") {
		t.Errorf("unexpected error message: %q", got.Error)
	}
}

func TestRunSkipsDisabledSteps(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	exec := NewExecutor(store, nil, nil, time.Minute)

	plan := planOf(
		enabled("calendar", "calendar", constStep("cal-out")),
		PlannedStep{
			Desc: step.Descriptor{Name: "communication_analysis", Produces: "communication_analysis", Optional: true},
			Exec: step.Func(func(ctx context.Context, in step.Inputs) (any, error) {
				t.Error("disabled step must not execute")
				return nil, nil
			}),
		},
	)
	rec := store.Create(1, nil)

	if err := exec.Run(context.Background(), rec.ID, "full", plan, nil, nil); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(rec.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if len(got.Progress.CompletedSteps) != 1 {
		t.Errorf("skipped step must not appear in completed steps: %v", got.Progress.CompletedSteps)
	}
	if _, ok := got.Results["communication_analysis"]; ok {
		t.Error("skipped step must not write results")
	}
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	exec := NewExecutor(store, nil, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	plan := planOf(
		enabled("calendar", "calendar", step.Func(func(ctx context.Context, in step.Inputs) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		})),
		enabled("coordinator", "final_output", constStep("final")),
	)
	rec := store.Create(2, nil)

	if err := exec.Run(ctx, rec.ID, "full", plan, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got, _ := store.Get(rec.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error != "job cancelled" {
		t.Errorf("unexpected error: %q", got.Error)
	}
}

func TestRunJobDeletedMidRun(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	exec := NewExecutor(store, nil, nil, time.Minute)

	rec := store.Create(2, nil)
	plan := planOf(
		enabled("calendar", "calendar", step.Func(func(ctx context.Context, in step.Inputs) (any, error) {
			store.Delete(rec.ID)
			return "cal-out", nil
		})),
		enabled("coordinator", "final_output", constStep("final")),
	)

	err := exec.Run(context.Background(), rec.ID, "full", plan, nil, nil)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("deleted job must not be recreated")
	}
}

func TestRunStepTimeout(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	exec := NewExecutor(store, nil, nil, 20*time.Millisecond)

	plan := planOf(
		enabled("calendar", "calendar", step.Func(func(ctx context.Context, in step.Inputs) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		})),
	)
	rec := store.Create(1, nil)

	if err := exec.Run(context.Background(), rec.ID, "full", plan, nil, nil); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(rec.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("expected failed after step timeout, got %s", got.Status)
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	capture := &captureDispatcher{}
	exec := NewExecutor(store, nil, capture, time.Minute)

	plan := planOf(
		enabled("calendar", "calendar", constStep("cal-out")),
		enabled("coordinator", "final_output", constStep("final")),
	)
	rec := store.Create(2, nil)
	cb := &Callback{URL: "http://callbacks.local/prep", SigningKey: "secret"}

	if err := exec.Run(context.Background(), rec.ID, "full", plan, nil, cb); err != nil {
		t.Fatal(err)
	}

	want := []string{EventStart, EventStep, EventStep, EventExit}
	got := capture.types()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	for _, e := range capture.events {
		if e.Destination != cb.URL {
			t.Errorf("unexpected destination %q", e.Destination)
		}
		if e.SigningKey != "secret" {
			t.Error("signing key not propagated")
		}
		if e.Payload.Subject != rec.ID {
			t.Errorf("event subject should be the job ID, got %q", e.Payload.Subject)
		}
	}
}

func TestRunEventFiltering(t *testing.T) {
	t.Parallel()
	store := job.NewStore()
	capture := &captureDispatcher{}
	exec := NewExecutor(store, nil, capture, time.Minute)

	plan := planOf(enabled("calendar", "calendar", constStep("cal-out")))
	rec := store.Create(1, nil)
	cb := &Callback{URL: "http://callbacks.local/prep", Events: []string{EventExit}}

	if err := exec.Run(context.Background(), rec.ID, "full", plan, nil, cb); err != nil {
		t.Fatal(err)
	}

	got := capture.types()
	if len(got) != 1 || got[0] != EventExit {
		t.Errorf("expected only exit event, got %v", got)
	}
}

func TestCallbackWants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cb   *Callback
		typ  string
		want bool
	}{
		{"nil callback", nil, EventStart, false},
		{"empty url", &Callback{}, EventStart, false},
		{"no filter", &Callback{URL: "http://x"}, EventStep, true},
		{"filter match", &Callback{URL: "http://x", Events: []string{EventExit}}, EventExit, true},
		{"filter miss", &Callback{URL: "http://x", Events: []string{EventExit}}, EventStart, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cb.wants(tt.typ); got != tt.want {
				t.Errorf("wants(%s) = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}
