// Package filter applies the inclusion policy of a job to extracted records.
package filter

import (
	"context"

	"github.com/gosom/gmaps-extractor/deduper"
	"github.com/gosom/gmaps-extractor/models"
)

type Policy struct {
	SkipDuplicates     bool
	SkipWithoutPhone   bool
	SkipWithoutWebsite bool
}

func PolicyFrom(p models.JobParams) Policy {
	return Policy{
		SkipDuplicates:     p.SkipDuplicates,
		SkipWithoutPhone:   p.SkipWithoutPhone,
		SkipWithoutWebsite: p.SkipWithoutWebsite,
	}
}

type Reason int

const (
	Keep Reason = iota
	NoPhone
	NoWebsite
	Duplicate
)

func (r Reason) String() string {
	switch r {
	case Keep:
		return "keep"
	case NoPhone:
		return "no_phone"
	case NoWebsite:
		return "no_website"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

type Result struct {
	Results               []models.Record
	DuplicatesSkipped     int
	WithoutPhoneSkipped   int
	WithoutWebsiteSkipped int
}

// Skipped is the total number of records dropped.
func (r *Result) Skipped() int {
	return r.DuplicatesSkipped + r.WithoutPhoneSkipped + r.WithoutWebsiteSkipped
}

// Filter decides record by record. A record is checked for a phone, then for
// a website, then for a repeated name; the first check that fails decides
// its reason. Only kept records enter the name memory.
type Filter struct {
	policy Policy
	seen   deduper.Deduper
}

func New(policy Policy) *Filter {
	return &Filter{policy: policy, seen: deduper.New()}
}

func (f *Filter) Decide(ctx context.Context, r *models.Record) Reason {
	if f.policy.SkipWithoutPhone && !r.HasPhone() {
		return NoPhone
	}

	if f.policy.SkipWithoutWebsite && !r.HasWebsite() {
		return NoWebsite
	}

	if f.policy.SkipDuplicates {
		if f.seen.Seen(r.NameKey()) {
			return Duplicate
		}

		f.seen.AddIfNotExists(ctx, r.NameKey())
	}

	return Keep
}

// Apply filters records in a single forward pass, preserving order.
func Apply(records []models.Record, policy Policy) Result {
	ctx := context.Background()
	f := New(policy)

	res := Result{Results: make([]models.Record, 0, len(records))}

	for i := range records {
		switch f.Decide(ctx, &records[i]) {
		case NoPhone:
			res.WithoutPhoneSkipped++
		case NoWebsite:
			res.WithoutWebsiteSkipped++
		case Duplicate:
			res.DuplicatesSkipped++
		case Keep:
			res.Results = append(res.Results, records[i])
		}
	}

	return res
}
