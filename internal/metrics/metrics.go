package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Capture and pose pipeline
	FramesCaptured  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64
	FramesGated     atomic.Uint64 // skipped by the rep visibility gate
	EstimatorErrors atomic.Uint64

	// Latency tracking
	EstimateLatencyMs atomic.Uint64
	ProcessLatencyMs  atomic.Uint64

	// Sessions
	SessionsActive atomic.Int64
	SessionsTotal  atomic.Uint64
	RepsCounted    atomic.Uint64

	// Feedback collaborator
	FeedbackRequests  atomic.Uint64
	FeedbackFailures  atomic.Uint64
	FeedbackLatencyMs atomic.Uint64

	// Fanout clients
	SSEClients    atomic.Int64
	WebRTCClients atomic.Int64
	WebRTCDropped atomic.Uint64

	// Event bus
	EventsPublished atomic.Uint64
	EventErrors     atomic.Uint64

	// Recording
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingFrames atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

type gauge struct {
	name, help string
	value      func() float64
}

func (m *Metrics) gauges() []gauge {
	u := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}
	i := func(v *atomic.Int64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}
	return []gauge{
		{"posecoach_frames_captured_total", "Total frames read from the capture hub", u(&m.FramesCaptured)},
		{"posecoach_frames_processed_total", "Total keypoint frames run through the analysis pipeline", u(&m.FramesProcessed)},
		{"posecoach_frames_dropped_total", "Total frames dropped because a consumer was busy", u(&m.FramesDropped)},
		{"posecoach_frames_gated_total", "Total frames skipped by the rep visibility gate", u(&m.FramesGated)},
		{"posecoach_estimator_errors_total", "Total pose estimator failures", u(&m.EstimatorErrors)},
		{"posecoach_estimate_latency_ms", "Last pose estimation latency in milliseconds", u(&m.EstimateLatencyMs)},
		{"posecoach_process_latency_ms", "Last analysis pipeline latency in milliseconds", u(&m.ProcessLatencyMs)},
		{"posecoach_sessions_active", "Number of live exercise sessions", i(&m.SessionsActive)},
		{"posecoach_sessions_total", "Total exercise sessions started", u(&m.SessionsTotal)},
		{"posecoach_reps_counted_total", "Total repetitions counted across sessions", u(&m.RepsCounted)},
		{"posecoach_feedback_requests_total", "Total text-generation feedback requests", u(&m.FeedbackRequests)},
		{"posecoach_feedback_failures_total", "Total feedback requests answered with fallback", u(&m.FeedbackFailures)},
		{"posecoach_feedback_latency_ms", "Last feedback request latency in milliseconds", u(&m.FeedbackLatencyMs)},
		{"posecoach_sse_clients", "Number of connected SSE clients", i(&m.SSEClients)},
		{"posecoach_webrtc_clients", "Number of connected WebRTC data channel clients", i(&m.WebRTCClients)},
		{"posecoach_webrtc_dropped_total", "Total payloads dropped for slow WebRTC clients", u(&m.WebRTCDropped)},
		{"posecoach_events_published_total", "Total MQTT events published", u(&m.EventsPublished)},
		{"posecoach_event_errors_total", "Total MQTT publish failures", u(&m.EventErrors)},
		{"posecoach_recording_active", "Recording active (0=inactive, 1=active)", u(&m.RecordingActive)},
		{"posecoach_recording_frames", "Total keypoint frames written to recordings", u(&m.RecordingFrames)},
	}
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	for _, g := range m.gauges() {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.value,
		))
	}
}

// ObserveEstimate records the duration of one estimator call
func (m *Metrics) ObserveEstimate(d time.Duration) {
	m.EstimateLatencyMs.Store(uint64(d.Milliseconds()))
}

// ObserveProcess records the duration of one analysis pass
func (m *Metrics) ObserveProcess(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// ObserveFeedback records one feedback call and whether it fell back
func (m *Metrics) ObserveFeedback(d time.Duration, failed bool) {
	m.FeedbackRequests.Add(1)
	m.FeedbackLatencyMs.Store(uint64(d.Milliseconds()))
	if failed {
		m.FeedbackFailures.Add(1)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
