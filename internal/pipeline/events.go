package pipeline

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"meetingprep/internal/dispatcher"
	"meetingprep/pkg/cloudevent"
)

// Lifecycle event types emitted to callback URLs.
const (
	EventStart = "prep.job.start"
	EventStep  = "prep.job.step"
	EventExit  = "prep.job.exit"
)

const eventSource = "meetingprep"

// Callback describes where lifecycle events for one job are delivered.
// Events filters by type; empty means all.
type Callback struct {
	URL        string   `json:"url"`
	SigningKey string   `json:"-"`
	Events     []string `json:"events,omitempty"`
}

func (c *Callback) wants(eventType string) bool {
	if c == nil || c.URL == "" {
		return false
	}
	if len(c.Events) == 0 {
		return true
	}
	return slices.Contains(c.Events, eventType)
}

// emitter builds and dispatches lifecycle events for a single job run.
// A nil dispatcher or absent callback makes every emit a no-op.
type emitter struct {
	jobID    string
	callback *Callback
	dispatch dispatcher.Dispatcher
	logger   *slog.Logger
	seq      atomic.Int64
}

func (e *emitter) emit(eventType string, data map[string]any) {
	if e.dispatch == nil || !e.callback.wants(eventType) {
		return
	}

	event := cloudevent.New(
		eventType,
		eventSource,
		e.jobID,
		fmt.Sprintf("%s-%d", e.jobID, e.seq.Add(1)),
		data,
	)

	err := e.dispatch.Dispatch(&dispatcher.Event{
		Payload:     event,
		Destination: e.callback.URL,
		SigningKey:  e.callback.SigningKey,
	})
	if err != nil {
		e.logger.Warn("Failed to queue lifecycle event", "job_id", e.jobID, "type", eventType, "error", err)
	}
}
