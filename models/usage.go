package models

import (
	"context"
	"time"
)

// UserUsage represents a user's consumption of extraction jobs.
type UserUsage struct {
	UserID      string
	JobCount    int
	Limit       int
	LastJobDate time.Time
}

// UsageLimiter gates job submission. Implementations live in the quota and
// postgres packages.
type UsageLimiter interface {
	// HasQuota reports whether the user may submit one more job.
	HasQuota(ctx context.Context, userID string) (bool, error)

	// CommitUsage records one submitted job.
	CommitUsage(ctx context.Context, userID string) error

	// Refund gives back one unit of usage.
	Refund(ctx context.Context, userID string) error
}
