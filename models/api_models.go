package models

import "time"

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JobSummary is the listing view of a job, without its records.
type JobSummary struct {
	ID                    string     `json:"id"`
	Keyword               string     `json:"keyword"`
	Status                Status     `json:"status"`
	Progress              int        `json:"progress"`
	TotalResults          int        `json:"total_results"`
	DuplicatesSkipped     int        `json:"duplicates_skipped"`
	WithoutPhoneSkipped   int        `json:"without_phone_skipped"`
	WithoutWebsiteSkipped int        `json:"without_website_skipped"`
	FailedPlaces          int        `json:"failed_places"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:                    j.ID,
		Keyword:               j.Params.Keyword,
		Status:                j.Status,
		Progress:              j.Progress,
		TotalResults:          j.TotalResults,
		DuplicatesSkipped:     j.DuplicatesSkipped,
		WithoutPhoneSkipped:   j.WithoutPhoneSkipped,
		WithoutWebsiteSkipped: j.WithoutWebsiteSkipped,
		FailedPlaces:          j.FailedPlaces,
		ErrorMessage:          j.ErrorMessage,
		CreatedAt:             j.CreatedAt,
		CompletedAt:           j.CompletedAt,
	}
}

type SubmitJobResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}
