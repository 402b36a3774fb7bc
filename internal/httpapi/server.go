// Package httpapi is the HTTP surface of the coaching server: the pose
// WebSocket, SSE and MJPEG fanout, WebRTC signaling and the REST endpoints
// for profiles, results, feedback and recording.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/pose-coach/internal/capture"
	"github.com/dj-oyu/pose-coach/internal/coverage"
	"github.com/dj-oyu/pose-coach/internal/estimator"
	"github.com/dj-oyu/pose-coach/internal/events"
	"github.com/dj-oyu/pose-coach/internal/feedback"
	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/overlay"
	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/recorder"
	"github.com/dj-oyu/pose-coach/internal/reps"
	"github.com/dj-oyu/pose-coach/internal/session"
	"github.com/dj-oyu/pose-coach/internal/store"
	"github.com/dj-oyu/pose-coach/internal/timeutil"
	"github.com/dj-oyu/pose-coach/internal/webrtc"
)

var log = logger.For("HTTP")

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Config holds the transport settings.
type Config struct {
	CORSOrigin    string // Access-Control-Allow-Origin; empty disables CORS headers
	FPS           int    // camera-driven sessions
	Adapter       pose.Adapter
	ClientAdapter pose.Adapter // keypoints sent by browsers
	Classifier    coverage.Classifier
	FeedbackEvery time.Duration
	HistorySize   int
	Overlay       overlay.Renderer
}

// Deps are the collaborators the server wires together. Any of them except
// Registry may be nil; the endpoints that need a missing one return 503.
type Deps struct {
	Catalog   *reps.Catalog
	Store     *store.Store
	Feedback  *feedback.Orchestrator
	Hub       *capture.Hub
	Estimator estimator.Estimator
	Registry  *session.Registry
	Recorder  *recorder.Recorder
	WebRTC    *webrtc.Server
	Publisher session.Publisher
	Metrics   *metrics.Metrics
	Clock     timeutil.Clock
}

// Server serves the HTTP API.
type Server struct {
	cfg         Config
	deps        Deps
	broadcaster *PayloadBroadcaster
	startedAt   time.Time
}

// NewServer returns a configured API server.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry()
	}
	if deps.Catalog == nil {
		deps.Catalog = reps.DefaultCatalog()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if cfg.FPS <= 0 {
		cfg.FPS = session.DefaultFPS
	}
	return &Server{
		cfg:         cfg,
		deps:        deps,
		broadcaster: NewPayloadBroadcaster(deps.Metrics),
		startedAt:   deps.Clock.Now(),
	}
}

// Broadcaster exposes the payload fanout.
func (s *Server) Broadcaster() *PayloadBroadcaster { return s.broadcaster }

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws/pose", s.handlePoseWS)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /api/exercises", s.handleExercises)
	mux.HandleFunc("POST /api/profile", s.handleProfileCreate)
	mux.HandleFunc("GET /api/profile/{id}", s.handleProfileGet)
	mux.HandleFunc("GET /api/profiles", s.handleProfileList)
	mux.HandleFunc("POST /api/results", s.handleResultSave)
	mux.HandleFunc("GET /api/results", s.handleResultList)
	mux.HandleFunc("POST /api/feedback/set", s.handleFeedbackSet)
	mux.HandleFunc("POST /api/feedback/overall", s.handleFeedbackOverall)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("POST /api/webrtc/offer", s.handleWebRTCOffer)

	return s.cors(mux)
}

// cors answers preflight requests and tags every response.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":   "ok",
		"sessions": s.deps.Registry.Len(),
		"camera":   s.deps.Hub != nil,
		"feedback": s.deps.Feedback != nil,
		"store":    s.deps.Store != nil,
	}
	if s.deps.Recorder != nil {
		payload["recording"] = s.deps.Recorder.IsRecording()
	}
	if s.deps.WebRTC != nil {
		payload["webrtc_clients"] = s.deps.WebRTC.GetClientCount()
	}
	writeJSON(w, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Clock.Now()
	payload := map[string]any{
		"uptime_seconds": now.Sub(s.startedAt).Seconds(),
		"sessions":       s.deps.Registry.List(),
		"sse_clients":    s.broadcaster.ClientCount(),
		"timestamp":      float64(now.Unix()),
	}
	if s.deps.Hub != nil {
		payload["camera_leases"] = s.deps.Hub.Leases()
	}
	if s.deps.Recorder != nil {
		payload["recording"] = s.deps.Recorder.GetStatus()
	}
	if s.deps.WebRTC != nil {
		payload["webrtc"] = s.deps.WebRTC.GetClientStats()
	}
	if s.deps.Store != nil {
		if v, dirty, err := s.deps.Store.Version(); err == nil {
			payload["schema_version"] = v
			payload["schema_dirty"] = dirty
		}
	}
	if st, ok := s.deps.Estimator.(interface{ Stats() estimator.Stats }); ok {
		payload["estimator"] = st.Stats()
	}
	if st, ok := s.deps.Publisher.(interface{ Stats() events.Stats }); ok {
		payload["events"] = st.Stats()
	}
	writeJSON(w, payload)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"sessions": s.deps.Registry.List()})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	payload := map[string]any{
		"session": sess.Info(),
		"summary": sess.Summary(),
		"history": sess.History(),
	}
	if fb, ok := sess.LatestFeedback(); ok {
		payload["feedback"] = fb
	}
	writeJSON(w, payload)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	subID, eventCh := s.broadcaster.Subscribe(id)
	defer s.broadcaster.Unsubscribe(subID)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(r.Context(), w, eventCh, useProtobuf)
}

// handleStream serves the skeleton overlay of one session, or of every
// session when none is named.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	var lease *capture.Lease
	if id != "" {
		sess, ok := s.deps.Registry.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if sess.Info().Source == SourceCamera && s.deps.Hub != nil {
			l, err := s.deps.Hub.Acquire(r.Context())
			if err == nil {
				lease = l
				defer lease.Release()
			} else {
				log.Debug("MJPEG without camera image: %v", err)
			}
		}
	}

	subID, eventCh := s.broadcaster.Subscribe(id)
	defer s.broadcaster.Unsubscribe(subID)

	render := func(p session.Payload) []byte {
		f := overlay.Frame{Keypoints: p.Keypoints, Lines: statsLines(p)}
		if lease != nil {
			if frame, ok := lease.Latest(); ok {
				f.Image = frame.Data
				f.Mirror = frame.Mirrored
			}
		}
		rd := s.cfg.Overlay
		rd.Width, rd.Height = p.Size.W, p.Size.H
		data, err := rd.Render(f)
		if err != nil {
			log.Debug("Overlay render failed: %v", err)
			return nil
		}
		return data
	}
	streamMJPEGFromChannel(r.Context(), w, eventCh, render)
}

func (s *Server) handleExercises(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Catalog.Names()
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		ex, err := s.deps.Catalog.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, map[string]any{"name": ex.Name, "display_name": ex.Label()})
	}
	writeJSON(w, map[string]any{"exercises": out})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		writeError(w, http.StatusServiceUnavailable, "webrtc is not configured")
		return
	}
	var offer struct {
		SDP     string `json:"sdp"`
		Type    string `json:"type"`
		Session string `json:"session,omitempty"`
	}
	if err := decodeJSON(w, r, &offer); err != nil || offer.SDP == "" || offer.Type == "" {
		writeError(w, http.StatusBadRequest, "Invalid offer data")
		return
	}
	body, _ := json.Marshal(map[string]string{"sdp": offer.SDP, "type": offer.Type})
	answer, err := s.deps.WebRTC.HandleOffer(body, offer.Session)
	if err != nil {
		log.Warn("WebRTC offer error: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, fmt.Sprintf("Failed to handle offer: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

// publish fans a processed payload out to SSE, MJPEG, WebRTC and the
// recorder, and returns its JSON form.
func (s *Server) publish(p session.Payload) ([]byte, error) {
	ev, err := Serialize(p)
	if err != nil {
		return nil, err
	}
	s.broadcaster.Broadcast(ev)
	if s.deps.WebRTC != nil {
		s.deps.WebRTC.SendPayload(p.Session, ev.JSONData)
	}
	if s.deps.Recorder != nil && p.OK {
		s.deps.Recorder.SendFrame(recorder.Frame{
			Seq:       p.Seq,
			Timestamp: p.Timestamp,
			Session:   p.Session,
			Width:     p.Size.W,
			Height:    p.Size.H,
			Keypoints: p.Keypoints,
		})
	}
	return ev.JSONData, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONWithStatus(w, map[string]any{"error": msg}, status)
}

// requestContext bounds a collaborator call made on behalf of r.
func requestContext(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
