package models

import (
	"strconv"
	"strings"
)

// Review is a single user review shown on a place detail view.
type Review struct {
	Author string  `json:"author"`
	Rating float64 `json:"rating"`
	Text   string  `json:"text"`
	Date   string  `json:"date"`
}

// Record is one extracted business listing.
type Record struct {
	Category     string   `json:"category"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Phone        string   `json:"phone"`
	Email        string   `json:"email"`
	Website      string   `json:"website"`
	Rating       float64  `json:"rating"`
	ReviewsCount int      `json:"reviews_count"`
	Reviews      []Review `json:"reviews"`
	OpeningHours []string `json:"opening_hours"`
	IsOpen       bool     `json:"is_open"`
	ExternalID   string   `json:"external_id"`
}

const MaxReviews = 5

func (r *Record) HasPhone() bool {
	return strings.TrimSpace(r.Phone) != ""
}

func (r *Record) HasWebsite() bool {
	return strings.TrimSpace(r.Website) != ""
}

// NameKey is the normalized name used for duplicate detection.
func (r *Record) NameKey() string {
	return strings.ToLower(strings.TrimSpace(r.Name))
}

func (r *Record) CsvHeaders() []string {
	return []string{
		"name",
		"category",
		"address",
		"phone",
		"email",
		"website",
		"rating",
		"reviews_count",
		"is_open",
		"opening_hours",
		"reviews",
		"external_id",
	}
}

func (r *Record) CsvRow() []string {
	return []string{
		r.Name,
		r.Category,
		r.Address,
		r.Phone,
		r.Email,
		r.Website,
		strconv.FormatFloat(r.Rating, 'f', 1, 64),
		strconv.Itoa(r.ReviewsCount),
		strconv.FormatBool(r.IsOpen),
		strings.Join(r.OpeningHours, "; "),
		joinReviews(r.Reviews),
		r.ExternalID,
	}
}

func joinReviews(reviews []Review) string {
	parts := make([]string, 0, len(reviews))

	for i := range reviews {
		rv := reviews[i]
		parts = append(parts, rv.Author+" ("+strconv.FormatFloat(rv.Rating, 'f', 0, 64)+"): "+rv.Text)
	}

	return strings.Join(parts, " | ")
}
