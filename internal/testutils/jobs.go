// Package testutils holds fixtures and contract suites shared by the
// storage adapters' tests.
package testutils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gosom/gmaps-extractor/models"
)

var seq atomic.Int64

// NewJob returns a valid processing job owned by userID. Successive calls get
// strictly increasing creation times.
func NewJob(userID string) models.Job {
	n := seq.Add(1)

	return models.Job{
		ID:     uuid.NewString(),
		UserID: userID,
		Params: models.JobParams{
			Keyword:          fmt.Sprintf("coffee %d", n),
			Lang:             "en",
			MaxResults:       10,
			SkipDuplicates:   true,
			SkipWithoutPhone: true,
		},
		Status:    models.StatusProcessing,
		CreatedAt: time.Unix(1_700_000_000+n, 0).UTC(),
	}
}

// Records returns n records with distinct names.
func Records(n int) []models.Record {
	out := make([]models.Record, n)
	for i := range out {
		out[i] = models.Record{
			Name:    fmt.Sprintf("Place %d", i),
			Phone:   fmt.Sprintf("+30 210 000 %04d", i),
			Rating:  4.5,
			Reviews: []models.Review{{Author: "ann", Rating: 5, Text: "good"}},
		}
	}

	return out
}
