package gmaps

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/gmaps-extractor/exiter"
	"github.com/gosom/gmaps-extractor/models"
)

func testConfig() Config {
	return Config{
		CheckpointInterval: 5,
		ScrollWait:         0,
		PlateauAttempts:    2,
		MaxScrollRounds:    20,
		RetryAttempts:      3,
		RetryInitialDelay:  time.Millisecond,
		RetryMaxDelay:      2 * time.Millisecond,
	}
}

// twelvePlaces has two repeated names and three places without a phone.
func twelvePlaces() []fakePlace {
	places := make([]fakePlace, 0, 12)

	for i := 0; i < 7; i++ {
		places = append(places, fakePlace{name: fmt.Sprintf("Place %d", i), phone: fmt.Sprintf("+1 555 010%d", i)})
	}

	places = append(places,
		fakePlace{name: "place 1", phone: "+1 555 0201"},
		fakePlace{name: " PLACE 3 ", phone: "+1 555 0203"},
		fakePlace{name: "No Phone A"},
		fakePlace{name: "No Phone B"},
		fakePlace{name: "No Phone C"},
	)

	return places
}

func runPipeline(t *testing.T, p *Pipeline, req Request) (Result, []Event, error) {
	t.Helper()

	events := make(chan Event)
	collected := make(chan []Event)

	go func() {
		var all []Event
		for ev := range events {
			all = append(all, ev)
		}
		collected <- all
	}()

	res, err := p.Run(context.Background(), req, events)
	close(events)

	return res, <-collected, err
}

func checkpoints(events []Event) []models.Checkpoint {
	var out []models.Checkpoint

	for _, ev := range events {
		if cp, ok := ev.(CheckpointEvent); ok {
			out = append(out, cp.Checkpoint)
		}
	}

	return out
}

func TestRunFiltersAndCounts(t *testing.T) {
	browser := &fakeBrowser{places: twelvePlaces()}
	p := New(browser, testConfig())

	res, events, err := runPipeline(t, p, Request{
		JobID: "job-1",
		Params: models.JobParams{
			Keyword:          "coffee berlin",
			MaxResults:       12,
			SkipDuplicates:   true,
			SkipWithoutPhone: true,
		},
	})
	require.NoError(t, err)

	assert.Len(t, res.Records, 7)
	assert.Equal(t, 2, res.DuplicatesSkipped)
	assert.Equal(t, 3, res.WithoutPhoneSkipped)
	assert.Zero(t, res.WithoutWebsiteSkipped)
	assert.Zero(t, res.FailedPlaces)
	assert.Equal(t, 12, res.Visited)
	assert.Equal(t, res.Visited, len(res.Records)+res.DuplicatesSkipped+res.WithoutPhoneSkipped+res.WithoutWebsiteSkipped+res.FailedPlaces)

	first := res.Records[0]
	assert.Equal(t, "Place 0", first.Name)
	assert.Equal(t, "+1 555 0100", first.Phone)
	assert.Equal(t, "1 Main St", first.Address)
	assert.InDelta(t, 4.5, first.Rating, 0.001)
	assert.Equal(t, 120, first.ReviewsCount)

	cps := checkpoints(events)
	require.Len(t, cps, 2)
	assert.Equal(t, 4, cps[0].LastProcessedIndex)
	assert.Len(t, cps[0].Records, 5)
	assert.Equal(t, 9, cps[1].LastProcessedIndex)
	assert.Equal(t, "job-1", cps[1].JobID)

	sess := browser.session()
	assert.True(t, sess.closed)
	assert.Equal(t, "https://www.google.com/maps/search/coffee+berlin", sess.navURL)
}

func TestRunCapsAtMaxResults(t *testing.T) {
	browser := &fakeBrowser{places: twelvePlaces()}
	p := New(browser, testConfig())

	res, _, err := runPipeline(t, p, Request{
		JobID:  "job-2",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Visited)
	assert.Len(t, res.Records, 10)
	assert.Len(t, browser.session().opened, 10)
}

func TestRunStopsScrollingOnPlateau(t *testing.T) {
	browser := &fakeBrowser{places: twelvePlaces()[:3], pageSize: 2}
	p := New(browser, testConfig())

	res, _, err := runPipeline(t, p, Request{
		JobID:  "job-3",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 50},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Visited)
	// one load that grows the list, then two that do not
	assert.Equal(t, 3, browser.session().loadMores)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	places := twelvePlaces()[:8]
	browser := &fakeBrowser{places: places, pageSize: 8}
	p := New(browser, testConfig())

	resume := &models.Checkpoint{
		JobID:              "job-4",
		LastProcessedIndex: 4,
		TotalProcessed:     5,
		Records: []models.Record{
			{Name: "From checkpoint 0"}, {Name: "From checkpoint 1"}, {Name: "From checkpoint 2"},
			{Name: "From checkpoint 3"},
		},
		FailedPlaces: 1,
	}

	res, events, err := runPipeline(t, p, Request{
		JobID:  "job-4",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 8},
		Resume: resume,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{5, 6, 7}, browser.session().opened)

	names := make([]string, 0, len(res.Records))
	for i := range res.Records {
		names = append(names, res.Records[i].Name)
	}

	assert.Equal(t, []string{
		"From checkpoint 0", "From checkpoint 1", "From checkpoint 2", "From checkpoint 3",
		"Place 5", "Place 6", "place 1",
	}, names)
	assert.Equal(t, 1, res.FailedPlaces)
	assert.Equal(t, 8, res.Visited)
	assert.Empty(t, checkpoints(events))
}

func TestRunItemFailureDoesNotAbort(t *testing.T) {
	places := twelvePlaces()[:5]
	places[2].failOpen = -1
	places[2].openErr = errors.New("element is detached")
	places[3].name = ""

	browser := &fakeBrowser{places: places, pageSize: 5}
	diag := &fakeCapturer{}
	p := New(browser, testConfig(), WithDiagnostics(diag))

	res, events, err := runPipeline(t, p, Request{
		JobID:  "job-5",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 5},
	})
	require.NoError(t, err)

	assert.Len(t, res.Records, 3)
	assert.Equal(t, 2, res.FailedPlaces)
	assert.Equal(t, 5, res.Visited)
	assert.Equal(t, 1, browser.session().attempts[2], "non transient errors are not retried")

	require.Len(t, diag.items, 2)
	assert.Equal(t, captured{"job-5", 2, places[2].openErr}, diag.items[0])
	assert.Equal(t, 3, diag.items[1].index)

	var warned int
	for _, ev := range events {
		if l, ok := ev.(LogEvent); ok && l.Level == LevelWarn {
			warned++
		}
	}

	assert.Equal(t, 2, warned)
}

func TestRunItemPanicIsCountedAsFailure(t *testing.T) {
	places := twelvePlaces()[:3]
	places[1].panics = true

	browser := &fakeBrowser{places: places}
	diag := &fakeCapturer{}
	p := New(browser, testConfig(), WithDiagnostics(diag))

	res, _, err := runPipeline(t, p, Request{
		JobID:  "job-panic",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 3},
	})
	require.NoError(t, err)

	assert.Len(t, res.Records, 2)
	assert.Equal(t, "Place 0", res.Records[0].Name)
	assert.Equal(t, "Place 2", res.Records[1].Name)
	assert.Equal(t, 1, res.FailedPlaces)
	assert.Equal(t, 3, res.Visited)

	require.Len(t, diag.items, 1)
	assert.Equal(t, 1, diag.items[0].index)
	assert.ErrorContains(t, diag.items[0].cause, "recovered from panic: detail view went away")
}

func TestRunKeepsAdjacentPlacesWithSameName(t *testing.T) {
	places := []fakePlace{
		{name: "Starbucks", phone: "+1 555 0100"},
		{name: "Starbucks", phone: "+1 555 0101"},
		{name: "Blue Bottle", phone: "+1 555 0102"},
	}

	tests := []struct {
		name      string
		skipDups  bool
		wantKept  int
		wantDupes int
	}{
		{name: "duplicates kept", skipDups: false, wantKept: 3},
		{name: "duplicates skipped", skipDups: true, wantKept: 2, wantDupes: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			browser := &fakeBrowser{places: places}
			p := New(browser, testConfig())

			res, _, err := runPipeline(t, p, Request{
				JobID:  "job-same-name",
				Params: models.JobParams{Keyword: "coffee", MaxResults: 3, SkipDuplicates: tc.skipDups},
			})
			require.NoError(t, err)

			assert.Len(t, res.Records, tc.wantKept)
			assert.Equal(t, tc.wantDupes, res.DuplicatesSkipped)
			assert.Zero(t, res.FailedPlaces)
			assert.Equal(t, []int{0, 1, 2}, browser.session().opened)
		})
	}
}

func TestRunRetriesTransientOpen(t *testing.T) {
	places := twelvePlaces()[:2]
	places[1].failOpen = 2
	places[1].openErr = errors.New("Timeout 10000ms exceeded")

	browser := &fakeBrowser{places: places}

	var retries []string
	p := New(browser, testConfig(), WithRetryObserver(func(op string) {
		retries = append(retries, op)
	}))

	res, _, err := runPipeline(t, p, Request{
		JobID:  "job-6",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 2},
	})
	require.NoError(t, err)

	assert.Len(t, res.Records, 2)
	assert.Equal(t, 3, browser.session().attempts[1])
	assert.Equal(t, []string{"detail view", "detail view"}, retries)
}

func TestRunNavigationFailureIsFatal(t *testing.T) {
	browser := &fakeBrowser{places: twelvePlaces(), navErr: errors.New("net::ERR_CONNECTION_RESET")}
	p := New(browser, testConfig())

	_, _, err := runPipeline(t, p, Request{
		JobID:  "job-7",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 5},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open search page")
	assert.ErrorIs(t, err, browser.navErr)
	assert.Equal(t, 3, browser.session().navCalls)
}

func TestRunCancelsWhenStalled(t *testing.T) {
	places := twelvePlaces()[:2]
	places[1].block = true

	cfg := testConfig()
	cfg.StallTimeout = 100 * time.Millisecond

	p := New(&fakeBrowser{places: places}, cfg)

	_, _, err := runPipeline(t, p, Request{
		JobID:  "job-8",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 2},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, exiter.ErrStalled)
}

type staticEmailFinder struct {
	calls []string
}

func (f *staticEmailFinder) FindEmail(_ context.Context, website string) (string, error) {
	f.calls = append(f.calls, website)
	return "hello@" + website[len("https://"):], nil
}

func TestRunEmailExtension(t *testing.T) {
	places := []fakePlace{
		{name: "With Site", phone: "1", website: "https://site.example"},
		{name: "No Site", phone: "2"},
	}

	finder := &staticEmailFinder{}
	p := New(&fakeBrowser{places: places}, testConfig(), WithEmailFinder(finder))

	res, _, err := runPipeline(t, p, Request{
		JobID:  "job-9",
		Params: models.JobParams{Keyword: "coffee", MaxResults: 2, Email: true},
	})
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "hello@site.example", res.Records[0].Email)
	assert.Empty(t, res.Records[1].Email)
	assert.Equal(t, []string{"https://site.example"}, finder.calls)
}

func TestSearchURL(t *testing.T) {
	p := New(&fakeBrowser{}, Config{})

	assert.Equal(t, "https://www.google.com/maps/search/pizza+in+rome?hl=it", p.SearchURL("pizza in rome", "it"))
	assert.Equal(t, "https://www.google.com/maps/search/caf%C3%A9", p.SearchURL("café", ""))
}
