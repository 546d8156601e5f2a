package gmaps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mcnijman/go-emailaddress"
)

const maxWebsiteBody = 2 << 20

var _ EmailFinder = (*WebsiteEmailFinder)(nil)

// EmailFilter rejects addresses that are not contact emails.
type EmailFilter func(string) bool

func DefaultEmailFilter(email string) bool {
	lower := strings.ToLower(email)

	for _, ext := range []string{".png", ".webp", ".jpg", ".jpeg", ".gif", ".svg"} {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}

	if strings.Contains(lower, "sentry") || strings.Contains(lower, "wixpress.com") {
		return false
	}

	_, domain, ok := strings.Cut(lower, "@")
	if !ok {
		return false
	}

	for _, suffix := range []string{".local", ".test", ".example", ".invalid"} {
		if strings.HasSuffix(domain, suffix) {
			return false
		}
	}

	return true
}

// WebsiteEmailFinder fetches a business website and returns the first
// contact email found, preferring mailto links over addresses in the text.
type WebsiteEmailFinder struct {
	client *http.Client
	filter EmailFilter
}

func NewWebsiteEmailFinder(timeout time.Duration, filter EmailFilter) *WebsiteEmailFinder {
	if filter == nil {
		filter = DefaultEmailFilter
	}

	return &WebsiteEmailFinder{
		client: &http.Client{Timeout: timeout},
		filter: filter,
	}
}

func (f *WebsiteEmailFinder) FindEmail(ctx context.Context, website string) (string, error) {
	if !strings.HasPrefix(website, "http://") && !strings.HasPrefix(website, "https://") {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, website, http.NoBody)
	if err != nil {
		return "", err
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebsiteBody))
	if err != nil {
		return "", err
	}

	for _, email := range f.emails(body) {
		if f.filter(email) {
			return email, nil
		}
	}

	return "", nil
}

func (f *WebsiteEmailFinder) emails(body []byte) []string {
	var found []string

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			value, _, _ := strings.Cut(strings.TrimPrefix(href, "mailto:"), "?")

			if email, err := emailaddress.Parse(strings.TrimSpace(value)); err == nil {
				found = append(found, email.String())
			}
		})
	}

	for _, addr := range emailaddress.Find(body, false) {
		found = append(found, addr.String())
	}

	return found
}
