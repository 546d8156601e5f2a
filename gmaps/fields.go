package gmaps

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/resolver"
)

// Strategy chains for the place detail view. Order matters: the first entry
// gets the long timeout.
var (
	nameChain = resolver.Chain{
		resolver.ByText("h1.DUwDvf"),
		resolver.ByText("div[role='main'] h1"),
		resolver.ByAttr("div[role='main'][aria-label]", "aria-label"),
	}

	categoryChain = resolver.Chain{
		resolver.ByText("button.DkEaL"),
		resolver.ByText("span.DkEaL"),
	}

	addressChain = resolver.Chain{
		resolver.ByAttr("button[data-item-id='address']", "aria-label"),
		resolver.ByText("button[data-item-id='address'] .Io6YTe"),
	}

	phoneChain = resolver.Chain{
		resolver.ByAttr("button[data-item-id^='phone:tel:']", "aria-label"),
		resolver.ByText("button[data-item-id^='phone:tel:'] .Io6YTe"),
	}

	websiteChain = resolver.Chain{
		resolver.ByAttr("a[data-item-id='authority']", "href"),
		resolver.ByText("a[data-item-id='authority'] .Io6YTe"),
	}

	ratingChain = resolver.Chain{
		resolver.ByText("div.F7nice span[aria-hidden='true']"),
		resolver.ByAttr("span[role='img'][aria-label*='star']", "aria-label"),
	}

	reviewCountChain = resolver.Chain{
		resolver.ByAttr("div.F7nice span[aria-label*='review']", "aria-label"),
		resolver.ByText("button[jsaction*='reviewChart'] span"),
	}

	reviewsChain = resolver.Chain{
		resolver.ByList("div.jftiEf"),
		resolver.ByList("div[data-review-id]"),
	}

	reviewAuthorChain = resolver.Chain{resolver.ByText(".d4r55"), resolver.ByAttr("button[aria-label]", "aria-label")}
	reviewRatingChain = resolver.Chain{resolver.ByAttr("span.kvMYJc", "aria-label"), resolver.ByText("span.fzvQIb")}
	reviewTextChain   = resolver.Chain{resolver.ByText("span.wiI7pd"), resolver.ByText("div.MyEned")}
	reviewDateChain   = resolver.Chain{resolver.ByText("span.rsqaWe"), resolver.ByText("span.xRkPPb")}

	hoursRowsChain = resolver.Chain{
		resolver.ByList("table.eK4R0e tr"),
		resolver.ByList("div.t39EBf tr"),
	}

	hoursLabelChain = resolver.Chain{
		resolver.ByAttr("div.t39EBf", "aria-label"),
	}

	openNowChain = resolver.Chain{
		resolver.ByText("div.OMl5r span.ZDu9vd"),
		resolver.ByAttr("div.OMl5r", "aria-label"),
	}

	externalIDChain = resolver.Chain{
		resolver.ByAttr("[data-place-id]", "data-place-id"),
		resolver.ByAttr("link[rel='canonical']", "href"),
	}
)

const cellTimeout = 250 * time.Millisecond

var (
	numberRe  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	digitsRe  = regexp.MustCompile(`\d[\d.,\x{202f}\x{a0}]*`)
	featureRe = regexp.MustCompile(`(0x[0-9a-f]+:0x[0-9a-f]+)`)
)

// urlSource is implemented by sources that know the page address.
type urlSource interface {
	URL() string
}

// extractRecord resolves every field of the open detail view. fallbackName
// is used when the detail view has no readable title.
func extractRecord(ctx context.Context, r *resolver.Resolver, src resolver.Source, fallbackName string) models.Record {
	rec := models.Record{
		Name:     r.Text(ctx, src, nameChain, resolver.Opts{Field: "name", Required: true, Default: fallbackName}),
		Category: r.Text(ctx, src, categoryChain, resolver.Opts{Field: "category"}),
		Address:  stripLabel(r.Text(ctx, src, addressChain, resolver.Opts{Field: "address"})),
		Phone:    stripLabel(r.Text(ctx, src, phoneChain, resolver.Opts{Field: "phone"})),
		Website:  r.Text(ctx, src, websiteChain, resolver.Opts{Field: "website"}),
	}

	rec.Rating = parseRating(r.Text(ctx, src, ratingChain, resolver.Opts{Field: "rating"}))
	rec.ReviewsCount = parseCount(r.Text(ctx, src, reviewCountChain, resolver.Opts{Field: "reviews_count"}))
	rec.Reviews = extractReviews(ctx, r, src)
	rec.OpeningHours = extractHours(ctx, r, src)
	rec.IsOpen = parseOpenNow(r.Text(ctx, src, openNowChain, resolver.Opts{Field: "open_now"}))
	rec.ExternalID = extractExternalID(ctx, r, src)

	return rec
}

func extractReviews(ctx context.Context, r *resolver.Resolver, src resolver.Source) []models.Review {
	els := r.Elements(ctx, src, reviewsChain, resolver.Opts{Field: "reviews"})
	if len(els) > models.MaxReviews {
		els = els[:models.MaxReviews]
	}

	reviews := make([]models.Review, 0, len(els))

	for _, el := range els {
		rv := models.Review{
			Author: r.Text(ctx, el, reviewAuthorChain, resolver.Opts{Field: "review_author"}),
			Rating: parseRating(r.Text(ctx, el, reviewRatingChain, resolver.Opts{Field: "review_rating"})),
			Text:   r.Text(ctx, el, reviewTextChain, resolver.Opts{Field: "review_text"}),
			Date:   r.Text(ctx, el, reviewDateChain, resolver.Opts{Field: "review_date"}),
		}

		if rv.Author == "" && rv.Text == "" {
			continue
		}

		reviews = append(reviews, rv)
	}

	return reviews
}

func extractHours(ctx context.Context, r *resolver.Resolver, src resolver.Source) []string {
	var hours []string

	for _, row := range r.Elements(ctx, src, hoursRowsChain, resolver.Opts{Field: "opening_hours"}) {
		if txt := rowText(ctx, row); txt != "" {
			hours = append(hours, txt)
		}
	}

	if len(hours) > 0 {
		return hours
	}

	label := r.Text(ctx, src, hoursLabelChain, resolver.Opts{Field: "opening_hours_label"})
	if label == "" {
		return nil
	}

	label, _, _ = strings.Cut(label, ". Hide")

	for _, part := range strings.Split(label, ";") {
		if part = strings.TrimSpace(part); part != "" {
			hours = append(hours, part)
		}
	}

	return hours
}

// rowText joins the cells of a table row, or falls back to the row text.
func rowText(ctx context.Context, row resolver.Element) string {
	var parts []string

	cells, err := row.FindAll(ctx, "td", cellTimeout)
	if err == nil {
		for _, c := range cells {
			if txt, err := c.Text(ctx); err == nil && strings.TrimSpace(txt) != "" {
				parts = append(parts, txt)
			}
		}
	}

	if len(parts) == 0 {
		txt, err := row.Text(ctx)
		if err != nil {
			return ""
		}

		parts = append(parts, txt)
	}

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func extractExternalID(ctx context.Context, r *resolver.Resolver, src resolver.Source) string {
	if u, ok := src.(urlSource); ok {
		if m := featureRe.FindString(u.URL()); m != "" {
			return m
		}
	}

	v := r.Text(ctx, src, externalIDChain, resolver.Opts{Field: "external_id"})
	if m := featureRe.FindString(v); m != "" {
		return m
	}

	if strings.Contains(v, "/") {
		return ""
	}

	return v
}

// stripLabel removes an accessibility prefix such as "Address: ".
func stripLabel(s string) string {
	if _, after, ok := strings.Cut(s, ": "); ok {
		return strings.TrimSpace(after)
	}

	return strings.TrimSpace(s)
}

func parseRating(s string) float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil || v < 0 || v > 5 {
		return 0
	}

	return v
}

func parseCount(s string) int {
	m := digitsRe.FindString(s)

	var b strings.Builder

	for _, c := range m {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}

	if b.Len() == 0 {
		return 0
	}

	v, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}

	return v
}

func parseOpenNow(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))

	switch {
	case s == "", strings.HasPrefix(s, "closed"), strings.Contains(s, "temporarily closed"), strings.Contains(s, "permanently closed"):
		return false
	case strings.HasPrefix(s, "open"), strings.HasPrefix(s, "closes soon"), strings.Contains(s, "open now"):
		return true
	default:
		return false
	}
}
