package models

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

const (
	MinResults = 1
	MaxResults = 100
)

// JobParams are the user supplied options of an extraction job.
type JobParams struct {
	Keyword            string `json:"keyword" validate:"required,max=200"`
	Lang               string `json:"lang" validate:"omitempty,len=2"`
	MaxResults         int    `json:"max_results" validate:"min=1,max=100"`
	SkipDuplicates     bool   `json:"skip_duplicates"`
	SkipWithoutPhone   bool   `json:"skip_without_phone"`
	SkipWithoutWebsite bool   `json:"skip_without_website"`
	Email              bool   `json:"email"`
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}()

func (p *JobParams) Validate() error {
	p.Keyword = strings.TrimSpace(p.Keyword)

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return BadRequest(fmt.Sprintf("invalid %s: failed %s", verrs[0].Field(), verrs[0].Tag()))
		}

		return BadRequest(err.Error())
	}

	if p.Lang == "" {
		p.Lang = "en"
	}

	return nil
}

// Job is one user submitted extraction request and its accumulated state.
type Job struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Params JobParams `json:"params"`
	Status Status    `json:"status"`

	Results               []Record `json:"results"`
	TotalResults          int      `json:"total_results"`
	DuplicatesSkipped     int      `json:"duplicates_skipped"`
	WithoutPhoneSkipped   int      `json:"without_phone_skipped"`
	WithoutWebsiteSkipped int      `json:"without_website_skipped"`
	FailedPlaces          int      `json:"failed_places"`
	Progress              int      `json:"progress"`

	Logs         []string `json:"logs"`
	ErrorMessage string   `json:"error_message,omitempty"`

	LastCheckpointIndex int        `json:"last_checkpoint_index"`
	LastCheckpointAt    *time.Time `json:"last_checkpoint_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) Validate() error {
	if j.ID == "" {
		return BadRequest("missing id")
	}

	if j.UserID == "" {
		return BadRequest("missing user id")
	}

	if !j.Status.Valid() {
		return BadRequest("invalid status")
	}

	if j.CreatedAt.IsZero() {
		return BadRequest("missing created at")
	}

	return j.Params.Validate()
}

// LogLine formats a job log line with an RFC3339 timestamp prefix.
func LogLine(at time.Time, level, msg string) string {
	return fmt.Sprintf("[%s] %s: %s", at.UTC().Format(time.RFC3339), level, msg)
}

// SelectParams filters job listings.
type SelectParams struct {
	UserID string
	Status Status
	Limit  int
}

// JobRepository persists jobs. Every mutation of an existing job is
// conditional on the stored status so that a terminal state is never
// overwritten.
type JobRepository interface {
	Get(ctx context.Context, id string) (Job, error)
	Create(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error
	Select(ctx context.Context, params SelectParams) ([]Job, error)
	// UpdateIf stores job only if the persisted status equals expected.
	UpdateIf(ctx context.Context, job *Job, expected Status) (bool, error)
	// AppendLog appends a line only if the persisted status equals expected.
	AppendLog(ctx context.Context, id string, expected Status, line string) (bool, error)
}
