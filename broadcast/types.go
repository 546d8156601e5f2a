// Package broadcast delivers job progress events to observers. Delivery is
// best-effort: observers that are not connected, or too slow, miss events.
package broadcast

import (
	"context"
	"time"

	"github.com/gosom/gmaps-extractor/models"
)

type EventType string

const (
	EventProgress EventType = "job:progress"
	EventComplete EventType = "job:complete"
	EventError    EventType = "job:error"
	EventStatus   EventType = "job:status"
	EventLog      EventType = "job:log"
)

type Event struct {
	Type      EventType      `json:"type"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher accepts events. Publish must not block on slow observers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

func newEvent(t EventType, jobID string, data map[string]any) Event {
	return Event{Type: t, JobID: jobID, Timestamp: time.Now().UTC(), Data: data}
}

func Progress(jobID string, percent, processed, total int, msg string) Event {
	return newEvent(EventProgress, jobID, map[string]any{
		"progress":  percent,
		"processed": processed,
		"total":     total,
		"message":   msg,
	})
}

func Complete(jobID string, totalResults int) Event {
	return newEvent(EventComplete, jobID, map[string]any{
		"status":        string(models.StatusCompleted),
		"progress":      100,
		"total_results": totalResults,
	})
}

func Failure(jobID, msg string) Event {
	return newEvent(EventError, jobID, map[string]any{
		"status": string(models.StatusFailed),
		"error":  msg,
	})
}

func Status(jobID string, status models.Status, msg string) Event {
	return newEvent(EventStatus, jobID, map[string]any{
		"status":  string(status),
		"message": msg,
	})
}

func Log(jobID, line string) Event {
	return newEvent(EventLog, jobID, map[string]any{
		"line": line,
	})
}

// Terminal reports whether no further events follow for the job.
func (e Event) Terminal() bool {
	if e.Type == EventComplete || e.Type == EventError {
		return true
	}

	if e.Type != EventStatus {
		return false
	}

	s, _ := e.Data["status"].(string)

	return models.Status(s).IsTerminal()
}

// Fanout publishes to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
