package gmaps

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/gosom/gmaps-extractor/diagnostics"
	"github.com/gosom/gmaps-extractor/resolver"
)

type fakePlace struct {
	name    string
	phone   string
	website string
	// failOpen makes the first failOpen attempts to open the place fail
	// with openErr. A negative value fails forever.
	failOpen int
	openErr  error
	block    bool
	// panics makes the detail view panic on its first lookup.
	panics bool
}

type panicSource struct{}

func (panicSource) Find(context.Context, string, time.Duration) (resolver.Element, error) {
	panic("detail view went away")
}

func (panicSource) FindAll(context.Context, string, time.Duration) ([]resolver.Element, error) {
	panic("detail view went away")
}

func placeHTML(p fakePlace) string {
	var b strings.Builder

	b.WriteString(`<div role="main">`)
	if p.name != "" {
		fmt.Fprintf(&b, `<h1 class="DUwDvf">%s</h1>`, html.EscapeString(p.name))
	}

	b.WriteString(`<button class="DkEaL">Cafe</button>`)
	b.WriteString(`<button data-item-id="address" aria-label="Address: 1 Main St"></button>`)

	if p.phone != "" {
		fmt.Fprintf(&b, `<button data-item-id="phone:tel:%s" aria-label="Phone: %s"></button>`, p.phone, p.phone)
	}

	if p.website != "" {
		fmt.Fprintf(&b, `<a data-item-id="authority" href="%s"></a>`, p.website)
	}

	b.WriteString(`<div class="F7nice"><span aria-hidden="true">4.5</span><span aria-label="120 reviews">(120)</span></div>`)
	b.WriteString(`</div>`)

	return b.String()
}

type fakeBrowser struct {
	places   []fakePlace
	pageSize int
	navErr   error

	mu       sync.Mutex
	sessions []*fakeSession
}

func (b *fakeBrowser) NewSession(context.Context, string) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pageSize := b.pageSize
	if pageSize == 0 {
		pageSize = 4
	}

	s := &fakeSession{browser: b, visible: min(pageSize, len(b.places)), pageSize: pageSize, attempts: map[int]int{}}
	b.sessions = append(b.sessions, s)

	return s, nil
}

func (b *fakeBrowser) Close() error {
	return nil
}

func (b *fakeBrowser) session() *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sessions[len(b.sessions)-1]
}

type fakeSession struct {
	browser  *fakeBrowser
	visible  int
	pageSize int

	mu        sync.Mutex
	navURL    string
	navCalls  int
	loadMores int
	opened    []int
	attempts  map[int]int
	closed    bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.navCalls++
	s.navURL = url

	return s.browser.navErr
}

func (s *fakeSession) DismissConsent(context.Context) error {
	return errors.New("no consent form")
}

func (s *fakeSession) LoadMore(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadMores++
	s.visible = min(s.visible+s.pageSize, len(s.browser.places))

	return nil
}

func (s *fakeSession) CandidateCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.visible, nil
}

func (s *fakeSession) CandidateName(_ context.Context, index int) (string, error) {
	return s.browser.places[index].name, nil
}

func (s *fakeSession) OpenCandidate(ctx context.Context, index int) (resolver.Source, error) {
	p := s.browser.places[index]

	s.mu.Lock()
	s.attempts[index]++
	attempt := s.attempts[index]
	s.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if p.failOpen < 0 || attempt <= p.failOpen {
		return nil, p.openErr
	}

	s.mu.Lock()
	s.opened = append(s.opened, index)
	s.mu.Unlock()

	if p.panics {
		return panicSource{}, nil
	}

	return resolver.NewDocumentFromString(placeHTML(p))
}

func (s *fakeSession) Snapshot(context.Context) (diagnostics.Snapshot, error) {
	return diagnostics.Snapshot{URL: s.navURL, HTML: "<html></html>"}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

type captured struct {
	jobID string
	index int
	cause error
}

type fakeCapturer struct {
	mu    sync.Mutex
	items []captured
}

func (c *fakeCapturer) Capture(_ context.Context, jobID string, index int, _ diagnostics.Snapshot, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(c.items, captured{jobID, index, cause})
}
