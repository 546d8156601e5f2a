package gmaps

import (
	"time"

	"github.com/gosom/gmaps-extractor/models"
)

// Event is emitted by a running pipeline. The concrete types are LogEvent,
// ProgressEvent and CheckpointEvent.
type Event interface {
	event()
}

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

type LogEvent struct {
	At      time.Time
	Level   Level
	Message string
}

type ProgressEvent struct {
	Processed int
	Total     int
	Percent   int
	Message   string
}

type CheckpointEvent struct {
	Checkpoint models.Checkpoint
}

func (LogEvent) event()        {}
func (ProgressEvent) event()   {}
func (CheckpointEvent) event() {}

// SkipReason explains why a candidate produced no record.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipOpenFailed    SkipReason = "open_failed"
	SkipExtractFailed SkipReason = "extract_failed"
)

// Outcome is the result of visiting one candidate: either a record or a
// reason it was skipped.
type Outcome struct {
	Index  int
	Record *models.Record
	Skip   SkipReason
	Err    error
}

func (o *Outcome) OK() bool {
	return o.Skip == SkipNone && o.Record != nil
}
