package gmaps

import (
	"context"

	"github.com/gosom/gmaps-extractor/diagnostics"
	"github.com/gosom/gmaps-extractor/resolver"
)

// Browser opens isolated sessions, one per job run.
type Browser interface {
	NewSession(ctx context.Context, lang string) (Session, error)
	Close() error
}

// Session drives a single search results page and its detail views.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// DismissConsent clicks away a cookie consent screen if one is shown.
	DismissConsent(ctx context.Context) error
	// LoadMore scrolls the results list once.
	LoadMore(ctx context.Context) error
	CandidateCount(ctx context.Context) (int, error)
	// CandidateName is the name shown in the results list.
	CandidateName(ctx context.Context, index int) (string, error)
	// OpenCandidate opens the detail view and returns it as a Source.
	OpenCandidate(ctx context.Context, index int) (resolver.Source, error)
	Snapshot(ctx context.Context) (diagnostics.Snapshot, error)
	Close() error
}
