package job

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"meetingprep/internal/apperrors"
)

func TestStoreCreate(t *testing.T) {
	t.Parallel()
	store := NewStore()

	r := store.Create(4, nil)

	if r.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if r.Status != StatusStarted {
		t.Errorf("expected status started, got %q", r.Status)
	}
	if r.Progress.TotalSteps != 4 {
		t.Errorf("expected total_steps 4, got %d", r.Progress.TotalSteps)
	}
	if len(r.Progress.CompletedSteps) != 0 {
		t.Errorf("expected no completed steps, got %v", r.Progress.CompletedSteps)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestStoreCreateDistinctIDs(t *testing.T) {
	t.Parallel()
	store := NewStore()

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- store.Create(1, nil).ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate job ID %q", id)
		}
		seen[id] = true
	}
	if store.Len() != n {
		t.Errorf("expected %d records, got %d", n, store.Len())
	}
}

func TestStoreGetNotFound(t *testing.T) {
	t.Parallel()
	store := NewStore()

	_, err := store.Get("unknown-id")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetReturnsSnapshot(t *testing.T) {
	t.Parallel()
	store := NewStore()
	r := store.Create(2, nil)

	snap, err := store.Get(r.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the snapshot must not leak into the store.
	snap.Results["calendar"] = "tampered"
	snap.Progress.CompletedSteps = append(snap.Progress.CompletedSteps, "calendar")

	fresh, err := store.Get(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh.Results) != 0 {
		t.Error("snapshot mutation leaked into stored results")
	}
	if len(fresh.Progress.CompletedSteps) != 0 {
		t.Error("snapshot mutation leaked into stored progress")
	}
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()
	store := NewStore()
	r := store.Create(2, nil)

	err := store.Update(r.ID, func(rec *Record) {
		rec.Status = StatusRunning
		rec.Progress.CurrentStep = "calendar"
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRunning {
		t.Errorf("expected running, got %q", got.Status)
	}
	if got.Progress.CurrentStep != "calendar" {
		t.Errorf("expected current_step calendar, got %q", got.Progress.CurrentStep)
	}
	if got.UpdatedAt.Before(r.UpdatedAt) {
		t.Error("updated_at moved backwards")
	}
}

func TestStoreUpdateUnknownID(t *testing.T) {
	t.Parallel()
	store := NewStore()

	err := store.Update("unknown-id", func(rec *Record) {
		rec.Status = StatusRunning
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreUpdateTerminalRejected(t *testing.T) {
	t.Parallel()
	store := NewStore()
	r := store.Create(1, nil)

	if err := store.Update(r.ID, func(rec *Record) {
		rec.Status = StatusCompleted
	}); err != nil {
		t.Fatal(err)
	}

	err := store.Update(r.ID, func(rec *Record) {
		rec.Status = StatusFailed
	})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict for terminal record, got %v", err)
	}

	got, _ := store.Get(r.ID)
	if got.Status != StatusCompleted {
		t.Errorf("terminal status mutated to %q", got.Status)
	}
}

func TestStoreConcurrentUpdatesNoLostAppends(t *testing.T) {
	t.Parallel()
	store := NewStore()
	r := store.Create(100, nil)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("step-%d", n)
			if err := store.Update(r.ID, func(rec *Record) {
				rec.Progress.CompletedSteps = append(rec.Progress.CompletedSteps, name)
				rec.Results[name] = n
			}); err != nil {
				t.Errorf("update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.Get(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Progress.CompletedSteps) != 100 {
		t.Errorf("lost appends: expected 100 completed steps, got %d", len(got.Progress.CompletedSteps))
	}
	if len(got.Results) != 100 {
		t.Errorf("lost results: expected 100 keys, got %d", len(got.Results))
	}
}

func TestStoreList(t *testing.T) {
	t.Parallel()
	store := NewStore()
	a := store.Create(1, nil)
	b := store.Create(2, []string{"calendar"})

	_ = store.Update(b.ID, func(rec *Record) {
		rec.Results["calendar"] = "big payload that listings must not include"
	})

	summaries := store.List()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID != a.ID {
		t.Error("expected oldest job first")
	}
	for _, s := range summaries {
		if s.Type == "" {
			t.Error("expected derived type tag")
		}
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()
	store := NewStore()
	r := store.Create(1, nil)

	if !store.Delete(r.ID) {
		t.Fatal("expected delete to succeed")
	}
	if store.Delete(r.ID) {
		t.Error("expected second delete to report missing")
	}
	if _, err := store.Get(r.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreSweep(t *testing.T) {
	t.Parallel()
	store := NewStore()

	old := store.Create(1, nil)
	_ = store.Update(old.ID, func(rec *Record) {
		rec.Status = StatusCompleted
	})
	// Backdate the terminal record past the retention window.
	store.mu.Lock()
	store.jobs[old.ID].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.mu.Unlock()

	running := store.Create(1, nil)
	_ = store.Update(running.ID, func(rec *Record) {
		rec.Status = StatusRunning
	})
	store.mu.Lock()
	store.jobs[running.ID].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.mu.Unlock()

	fresh := store.Create(1, nil)
	_ = store.Update(fresh.ID, func(rec *Record) {
		rec.Status = StatusFailed
	})

	removed := store.Sweep(time.Hour)
	if removed != 1 {
		t.Errorf("expected 1 swept record, got %d", removed)
	}
	if _, err := store.Get(old.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Error("expected old terminal record to be swept")
	}
	if _, err := store.Get(running.ID); err != nil {
		t.Error("in-flight job must never be swept")
	}
	if _, err := store.Get(fresh.ID); err != nil {
		t.Error("recent terminal job must be retained")
	}
}
