// Package job defines the job record model and the in-memory job store.
package job

import (
	"slices"
	"time"
)

// Status constants. Transitions only move forward:
// started -> running -> completed | failed. Completed and failed are
// terminal; the store rejects any mutation after them.
const (
	StatusStarted   = "started"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Workflow type tags, derived from the record rather than stored.
const (
	TypeFull   = "full"
	TypeCustom = "custom"
	TypeAgenda = "agenda"
)

// agendaSteps identifies records produced by the agenda workflow chain.
var agendaSteps = []string{"agenda_build", "preread_collect", "context_briefing"}

// Progress tracks how far a job's pipeline has advanced.
type Progress struct {
	CurrentStep    string   `json:"current_step,omitempty"`
	CompletedSteps []string `json:"completed_steps"`
	TotalSteps     int      `json:"total_steps"`
	RequestedSteps []string `json:"requested_steps,omitempty"`
}

// Record is the unit of orchestration state for one workflow invocation.
// Mutation happens exclusively through Store.Update while the job's
// goroutine is alive.
type Record struct {
	ID        string         `json:"job_id"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Progress  Progress       `json:"progress"`
	Results   map[string]any `json:"results"`
	Error     string         `json:"error,omitempty"`
}

// Summary is the lightweight listing view of a record. Result payloads are
// deliberately excluded.
type Summary struct {
	ID        string    `json:"job_id"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Progress  Progress  `json:"progress"`
	Error     string    `json:"error,omitempty"`
}

// Terminal reports whether the record has reached a terminal status.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Type derives the workflow shape tag from the populated progress fields:
// an explicit requested subset marks a custom job, agenda chain steps mark
// an agenda job, everything else is the full workflow.
func (r *Record) Type() string {
	if r.Progress.RequestedSteps != nil {
		return TypeCustom
	}
	if _, ok := r.Results["agenda"]; ok {
		return TypeAgenda
	}
	if slices.Contains(agendaSteps, r.Progress.CurrentStep) {
		return TypeAgenda
	}
	for _, s := range r.Progress.CompletedSteps {
		if slices.Contains(agendaSteps, s) {
			return TypeAgenda
		}
	}
	return TypeFull
}

// Summary returns the listing view of the record.
func (r *Record) Summary() Summary {
	return Summary{
		ID:        r.ID,
		Status:    r.Status,
		Type:      r.Type(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Progress:  r.Progress.clone(),
		Error:     r.Error,
	}
}

// clone deep-copies the record so readers never alias store-owned state.
// Result values are opaque and immutable once written, so a shallow copy
// of the map is enough.
func (r *Record) clone() *Record {
	c := *r
	c.Progress = r.Progress.clone()
	c.Results = make(map[string]any, len(r.Results))
	for k, v := range r.Results {
		c.Results[k] = v
	}
	return &c
}

func (p Progress) clone() Progress {
	c := p
	c.CompletedSteps = slices.Clone(p.CompletedSteps)
	c.RequestedSteps = slices.Clone(p.RequestedSteps)
	return c
}
