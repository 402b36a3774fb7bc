package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dj-oyu/pose-coach/internal/feedback"
	"github.com/dj-oyu/pose-coach/internal/store"
)

const (
	storeTimeout    = 5 * time.Second
	feedbackTimeout = 30 * time.Second
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store is not configured")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func (s *Server) handleProfileCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var p store.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile: "+err.Error())
		return
	}
	ctx, cancel := requestContext(r, storeTimeout)
	defer cancel()

	created, err := s.deps.Store.Profiles.Create(ctx, p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info("Profile %s saved (user=%q)", created.ID, created.UserID)
	writeJSONWithStatus(w, created, http.StatusCreated)
}

func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	ctx, cancel := requestContext(r, storeTimeout)
	defer cancel()

	var (
		p   store.Profile
		err error
	)
	if id := r.PathValue("id"); id == "latest" {
		p, err = s.deps.Store.Profiles.Latest(ctx, r.URL.Query().Get("user_id"))
	} else {
		p, err = s.deps.Store.Profiles.Get(ctx, id)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, p)
	}
}

func (s *Server) handleProfileList(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := requestContext(r, storeTimeout)
	defer cancel()

	profiles, err := s.deps.Store.Profiles.List(ctx, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"profiles": profiles})
}

func (s *Server) handleResultSave(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var res store.WorkoutResult
	if err := decodeJSON(w, r, &res); err != nil {
		writeError(w, http.StatusBadRequest, "invalid result: "+err.Error())
		return
	}
	ctx, cancel := requestContext(r, storeTimeout)
	defer cancel()

	saved, err := s.deps.Store.Results.Save(ctx, res)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info("Workout result %s saved (%s, %d reps)", saved.ID, saved.ExerciseName, saved.TotalReps)
	writeJSONWithStatus(w, saved, http.StatusCreated)
}

func (s *Server) handleResultList(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := requestContext(r, storeTimeout)
	defer cancel()

	results, err := s.deps.Store.Results.List(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"results": results})
}

// handleFeedbackSet returns per-set advice. The body is a feedback request; a
// "session" field fills it from that live session instead.
func (s *Server) handleFeedbackSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		feedback.Request
		Session string `json:"session,omitempty"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feedback request: "+err.Error())
		return
	}
	req := body.Request
	if body.Session != "" {
		sess, ok := s.deps.Registry.Get(body.Session)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		req = sess.FeedbackRequest()
	}
	if req.Exercise == "" {
		req.Exercise = "unknown"
	}
	if req.Stage == "" {
		req.Stage = "N/A"
	}
	if s.deps.Feedback == nil {
		writeJSON(w, feedback.Default())
		return
	}

	ctx, cancel := requestContext(r, feedbackTimeout)
	defer cancel()
	writeJSON(w, s.deps.Feedback.RequestFeedback(ctx, req))
}

// handleFeedbackOverall summarizes a workout. The body is
// {"set_results": [...]}, {"sets": [...]} or the bare array of set results.
func (s *Server) handleFeedbackOverall(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var sets []feedback.SetResult
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &sets)
	} else {
		var body struct {
			SetResults []feedback.SetResult `json:"set_results"`
			Sets       []feedback.SetResult `json:"sets"`
		}
		err = json.Unmarshal(trimmed, &body)
		sets = body.SetResults
		if len(sets) == 0 {
			sets = body.Sets
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid set results: "+err.Error())
		return
	}
	if len(sets) == 0 {
		writeError(w, http.StatusBadRequest, "no set results")
		return
	}

	orch := s.deps.Feedback
	if orch == nil {
		// still averages the reported accuracy
		orch = feedback.NewOrchestrator(nil, feedback.Options{Metrics: s.deps.Metrics})
	}
	ctx, cancel := requestContext(r, feedbackTimeout)
	defer cancel()
	writeJSON(w, orch.OverallSummary(ctx, sets))
}

func (s *Server) requireRecorder(w http.ResponseWriter) bool {
	if s.deps.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "recorder is not configured")
		return false
	}
	return true
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	var body struct {
		Session string `json:"session"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
	}

	path, err := s.deps.Recorder.Start(body.Session)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := map[string]any{
		"status":     "recording",
		"file":       path,
		"session":    body.Session,
		"started_at": float64(s.deps.Clock.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	path, err := s.deps.Recorder.Stop()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := map[string]any{
		"status":     "stopped",
		"file":       path,
		"stats":      s.deps.Recorder.GetStatus(),
		"stopped_at": float64(s.deps.Clock.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	writeJSON(w, s.deps.Recorder.GetStatus())
}
