package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.FramesDropped.Add(3)
	a.Events.WithLabelValues("[TL > EN]").Inc()

	assert.Contains(t, scrape(t, a), "livetranscriber_frames_dropped_total 3")
	assert.Contains(t, scrape(t, a), `livetranscriber_transcript_events_total{tag="[TL > EN]"} 1`)
	assert.Contains(t, scrape(t, b), "livetranscriber_frames_dropped_total 0")
}

func TestObserveHelpers(t *testing.T) {
	m := New()
	m.ObserveInference(time.Now().Add(-time.Second), true)
	m.ObserveInference(time.Now(), false)
	m.ObserveSegment(5 * time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, "livetranscriber_inference_failures_total 1")
	assert.Contains(t, body, "livetranscriber_inference_duration_seconds_count 2")
	assert.Contains(t, body, "livetranscriber_segments_created_total 1")
}

func TestHandlerIncludesRuntimeCollectors(t *testing.T) {
	m := New()
	m.SessionsStarted.Inc()

	body := scrape(t, m)
	assert.Contains(t, body, "livetranscriber_sessions_started_total 1")
	assert.Contains(t, body, "go_goroutines")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
