package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/models"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Submitted()
		m.Started()()
		m.Finished(models.StatusCompleted, time.Second)
		m.ObserveItem(gmaps.Outcome{})
		m.Retry("navigation")
		m.CheckpointSaved(true)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Submitted()
	m.Finished(models.StatusCompleted, 3*time.Second)
	m.Finished(models.StatusFailed, 0)
	m.ObserveItem(gmaps.Outcome{Record: &models.Record{Name: "A"}})
	m.ObserveItem(gmaps.Outcome{Skip: gmaps.SkipOpenFailed, Err: errors.New("x")})
	m.Retry("navigation")
	m.Retry("navigation")
	m.CheckpointSaved(false)

	done := m.Started()
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsRunning), 0)
	done()

	assert.InDelta(t, 0, testutil.ToFloat64(m.JobsRunning), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsSubmitted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsFinished.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ItemsProcessed.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ItemsProcessed.WithLabelValues("open_failed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Retries.WithLabelValues("navigation")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CheckpointSaves.WithLabelValues("error")), 0)
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.Submitted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gmaps_extractor_jobs_submitted_total 1")
}
