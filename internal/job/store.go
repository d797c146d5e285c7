package job

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetingprep/internal/apperrors"
)

// Store is the concurrency-safe, process-lifetime home of all job records.
// It is the single source of truth: no component reads or writes a record
// except through these methods. Updates for the same job are serialized by
// the store's lock, so two steps appending progress concurrently both
// survive.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Record)}
}

// Create inserts a new record with a generated ID and status "started".
// requested is the explicit step subset for custom workflows, nil otherwise.
// Returns a snapshot of the new record.
func (s *Store) Create(totalSteps int, requested []string) *Record {
	now := time.Now().UTC()
	r := &Record{
		ID:        uuid.NewString(),
		Status:    StatusStarted,
		CreatedAt: now,
		UpdatedAt: now,
		Progress: Progress{
			CompletedSteps: []string{},
			TotalSteps:     totalSteps,
			RequestedSteps: requested,
		},
		Results: make(map[string]any),
	}

	s.mu.Lock()
	s.jobs[r.ID] = r
	s.mu.Unlock()

	return r.clone()
}

// Get returns a snapshot of the record, or a NotFound error.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return r.clone(), nil
}

// Update applies one atomic state transition to the record. The mutator runs
// under the store lock and must not block. Unknown IDs return NotFound;
// records already in a terminal state return Conflict — terminal states are
// immutable except for deletion.
func (s *Store) Update(id string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if r.Terminal() {
		return apperrors.Conflict("job", id, "job is in a terminal state")
	}

	mutate(r)

	// updated_at is rewritten on every mutation and never moves backwards.
	if now := time.Now().UTC(); now.After(r.UpdatedAt) {
		r.UpdatedAt = now
	}
	return nil
}

// List returns summaries for every retained job, oldest first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	summaries := make([]Summary, 0, len(s.jobs))
	for _, r := range s.jobs {
		summaries = append(summaries, r.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Delete removes the record. Returns false if it was not present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Sweep removes terminal records whose last update is older than retention.
// In-flight jobs are never swept. Returns the number of records removed.
func (s *Store) Sweep(retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, r := range s.jobs {
		if r.Terminal() && r.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
