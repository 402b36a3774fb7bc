package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.FramesProcessed.Add(3)
	m.SessionsActive.Add(2)
	m.ObserveFeedback(120*time.Millisecond, true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "posecoach_frames_processed_total 3")
	assert.Contains(t, text, "posecoach_sessions_active 2")
	assert.Contains(t, text, "posecoach_feedback_requests_total 1")
	assert.Contains(t, text, "posecoach_feedback_failures_total 1")
	assert.Contains(t, text, "posecoach_feedback_latency_ms 120")
}

func TestGaugeNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, g := range New().gauges() {
		assert.False(t, seen[g.name], g.name)
		seen[g.name] = true
	}
}
