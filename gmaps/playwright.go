package gmaps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/multierr"

	"github.com/gosom/gmaps-extractor/diagnostics"
	"github.com/gosom/gmaps-extractor/proxy"
	"github.com/gosom/gmaps-extractor/resolver"
)

const (
	feedSelector      = `div[role='feed']`
	candidateSelector = `div[role='feed'] a.hfpxzc`
	titleSelector     = `h1.DUwDvf`
	consentSelector   = `form[action*='consent'] button, button[aria-label*='Reject all']`
)

const scrollJS = `() => {
	const el = document.querySelector("` + feedSelector + `");
	if (!el) { return 0; }
	el.scrollTop = el.scrollHeight;
	return el.scrollHeight;
}`

type BrowserConfig struct {
	Headless      bool          `envconfig:"HEADLESS" default:"true"`
	ActionTimeout time.Duration `envconfig:"ACTION_TIMEOUT" default:"10s"`
	NavTimeout    time.Duration `envconfig:"NAV_TIMEOUT" default:"60s"`
	// Proxies are used round-robin, one per session.
	Proxies []string `envconfig:"PROXIES"`
}

var _ Browser = (*PlaywrightBrowser)(nil)

// PlaywrightBrowser drives a headless Chromium.
type PlaywrightBrowser struct {
	cfg     BrowserConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	proxies *proxy.Pool
}

func NewPlaywrightBrowser(cfg BrowserConfig) (*PlaywrightBrowser, error) {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}

	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}

	var pool *proxy.Pool

	if len(cfg.Proxies) > 0 {
		p, err := proxy.NewPool(cfg.Proxies)
		if err != nil {
			return nil, err
		}

		pool = p
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}

	// chromium only honours per-context proxies when launched with one
	if pool.Len() > 0 {
		launch.Proxy = &playwright.Proxy{Server: "http://per-context"}
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	return &PlaywrightBrowser{cfg: cfg, pw: pw, browser: browser, proxies: pool}, nil
}

func (b *PlaywrightBrowser) NewSession(_ context.Context, lang string) (Session, error) {
	opts := playwright.BrowserNewContextOptions{
		Locale:   playwright.String(lang),
		Viewport: &playwright.Size{Width: 1920, Height: 1080},
	}

	if p, ok := b.proxies.Next(); ok {
		opts.Proxy = &playwright.Proxy{
			Server:   p.Server,
			Username: optional(p.Username),
			Password: optional(p.Password),
		}
	}

	bctx, err := b.browser.NewContext(opts)
	if err != nil {
		return nil, err
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, err
	}

	page.SetDefaultTimeout(ms(b.cfg.ActionTimeout))
	page.SetDefaultNavigationTimeout(ms(b.cfg.NavTimeout))

	return &pwSession{cfg: b.cfg, bctx: bctx, page: page}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return playwright.String(s)
}

func (b *PlaywrightBrowser) Close() error {
	return multierr.Combine(b.browser.Close(), b.pw.Stop())
}

type pwSession struct {
	cfg       BrowserConfig
	bctx      playwright.BrowserContext
	page      playwright.Page
	// shown is the detail view left by the previous OpenCandidate.
	shown detailView
}

// detailView is what identifies the place in the detail pane.
type detailView struct {
	URL   string
	Title string
}

// detailOpened reports whether cur shows the candidate linked by href.
// Candidates are matched on the feature id in their link, so neighbours
// that share a name are still told apart. Without a feature id any change
// of address or title counts.
func detailOpened(href string, prev, cur detailView) bool {
	if cur.Title == "" {
		return false
	}

	if want := featureRe.FindString(href); want != "" {
		return featureRe.FindString(cur.URL) == want
	}

	return cur.URL != prev.URL || cur.Title != prev.Title
}

func (s *pwSession) Navigate(_ context.Context, u string) error {
	_, err := s.page.Goto(u, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(ms(s.cfg.NavTimeout)),
	})

	return err
}

func (s *pwSession) DismissConsent(context.Context) error {
	btn := s.page.Locator(consentSelector).First()

	if err := btn.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(3000)}); err != nil {
		return err
	}

	return s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(ms(s.cfg.NavTimeout)),
	})
}

func (s *pwSession) LoadMore(context.Context) error {
	_, err := s.page.Evaluate(scrollJS)

	return err
}

func (s *pwSession) CandidateCount(context.Context) (int, error) {
	return s.page.Locator(candidateSelector).Count()
}

func (s *pwSession) CandidateName(_ context.Context, index int) (string, error) {
	return s.page.Locator(candidateSelector).Nth(index).GetAttribute("aria-label", playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(1000),
	})
}

func (s *pwSession) OpenCandidate(ctx context.Context, index int) (resolver.Source, error) {
	link := s.page.Locator(candidateSelector).Nth(index)

	if err := link.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(ms(s.cfg.ActionTimeout)),
	}); err != nil {
		return nil, err
	}

	href, err := link.GetAttribute("href", playwright.LocatorGetAttributeOptions{Timeout: playwright.Float(1000)})
	if err != nil {
		href = ""
	}

	if err := link.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(ms(s.cfg.ActionTimeout))}); err != nil {
		return nil, err
	}

	view, err := s.waitForDetail(ctx, href)
	if err != nil {
		return nil, err
	}

	s.shown = view

	return &pageSource{page: s.page}, nil
}

// waitForDetail waits until the detail pane shows the clicked candidate.
func (s *pwSession) waitForDetail(ctx context.Context, href string) (detailView, error) {
	deadline := time.Now().Add(s.cfg.ActionTimeout)
	loc := s.page.Locator(titleSelector).First()

	for {
		title, err := loc.TextContent(playwright.LocatorTextContentOptions{Timeout: playwright.Float(1000)})
		cur := detailView{URL: s.page.URL(), Title: strings.TrimSpace(title)}

		if err == nil && detailOpened(href, s.shown, cur) {
			return cur, nil
		}

		if time.Now().After(deadline) {
			if err == nil {
				err = errors.New("detail view did not change")
			}

			return detailView{}, fmt.Errorf("timeout waiting for detail view: %w", err)
		}

		if err := wait(ctx, 200*time.Millisecond); err != nil {
			return detailView{}, err
		}
	}
}

func (s *pwSession) Snapshot(context.Context) (diagnostics.Snapshot, error) {
	snap := diagnostics.Snapshot{URL: s.page.URL()}

	shot, shotErr := s.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	snap.Screenshot = shot

	html, htmlErr := s.page.Content()
	snap.HTML = html

	return snap, multierr.Combine(shotErr, htmlErr)
}

func (s *pwSession) Close() error {
	return multierr.Combine(s.page.Close(), s.bctx.Close())
}

var (
	_ resolver.Source  = (*pageSource)(nil)
	_ resolver.Element = (*locatorElement)(nil)
)

// pageSource evaluates selectors against the whole page.
type pageSource struct {
	page playwright.Page
}

func (p *pageSource) URL() string {
	return p.page.URL()
}

func (p *pageSource) Find(_ context.Context, selector string, timeout time.Duration) (resolver.Element, error) {
	return find(p.page.Locator(selector), timeout)
}

func (p *pageSource) FindAll(_ context.Context, selector string, timeout time.Duration) ([]resolver.Element, error) {
	return findAll(p.page.Locator(selector), timeout)
}

type locatorElement struct {
	loc     playwright.Locator
	timeout time.Duration
}

func (e *locatorElement) Find(_ context.Context, selector string, timeout time.Duration) (resolver.Element, error) {
	return find(e.loc.Locator(selector), timeout)
}

func (e *locatorElement) FindAll(_ context.Context, selector string, timeout time.Duration) ([]resolver.Element, error) {
	return findAll(e.loc.Locator(selector), timeout)
}

func (e *locatorElement) Text(context.Context) (string, error) {
	txt, err := e.loc.TextContent(playwright.LocatorTextContentOptions{Timeout: playwright.Float(ms(e.timeout))})

	return strings.TrimSpace(txt), err
}

func (e *locatorElement) Attr(_ context.Context, name string) (string, error) {
	return e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: playwright.Float(ms(e.timeout))})
}

func find(loc playwright.Locator, timeout time.Duration) (resolver.Element, error) {
	first := loc.First()

	err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", resolver.ErrNotFound, err)
	}

	return &locatorElement{loc: first, timeout: timeout}, nil
}

func findAll(loc playwright.Locator, timeout time.Duration) ([]resolver.Element, error) {
	if _, err := find(loc, timeout); err != nil {
		return nil, err
	}

	all, err := loc.All()
	if err != nil {
		return nil, err
	}

	els := make([]resolver.Element, 0, len(all))
	for _, l := range all {
		els = append(els, &locatorElement{loc: l, timeout: timeout})
	}

	return els, nil
}

// ms converts to playwright milliseconds. Zero means no timeout to
// playwright, so it is never returned.
func ms(d time.Duration) float64 {
	return float64(max(d.Milliseconds(), 1))
}
