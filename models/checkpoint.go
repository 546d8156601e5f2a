package models

import "time"

// Checkpoint is the resumable progress snapshot of a running job.
type Checkpoint struct {
	JobID                 string    `json:"job_id"`
	Keyword               string    `json:"keyword"`
	LastProcessedIndex    int       `json:"last_processed_index"`
	TotalProcessed        int       `json:"total_processed"`
	Records               []Record  `json:"records"`
	DuplicatesSkipped     int       `json:"duplicates_skipped"`
	WithoutPhoneSkipped   int       `json:"without_phone_skipped"`
	WithoutWebsiteSkipped int       `json:"without_website_skipped"`
	FailedPlaces          int       `json:"failed_places"`
	SavedAt               time.Time `json:"saved_at"`
}

// NextIndex is the first candidate index that still has to be processed.
func (c *Checkpoint) NextIndex() int {
	if c == nil {
		return 0
	}

	return c.LastProcessedIndex + 1
}
