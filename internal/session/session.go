// Package session runs one client's exercise session: it owns the per-session
// accumulator, coverage tracker, rep machine and feedback dialogue, and turns
// keypoint frames into outbound payloads.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/pose-coach/internal/analysis"
	"github.com/dj-oyu/pose-coach/internal/coverage"
	"github.com/dj-oyu/pose-coach/internal/feedback"
	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/reps"
	"github.com/dj-oyu/pose-coach/internal/timeutil"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

const (
	// DefaultFeedbackInterval is the minimum spacing of feedback requests
	// without a stage change.
	DefaultFeedbackInterval = 3 * time.Second
	// ROIMarginPx pads the keypoint bounding box sent to clients.
	ROIMarginPx = 24
)

// Event kinds passed to a Publisher.
const (
	EventRep      = "rep"
	EventFeedback = "feedback"
)

var log = logger.For("Session")

// Publisher receives session events such as counted reps and coach feedback.
type Publisher interface {
	Publish(ctx context.Context, sessionID, kind string, v any) error
}

// Config sets up a session.
type Config struct {
	ID       string // generated when empty
	UserID   string
	Source   string // "camera" or "client"
	Exercise reps.Exercise
	Catalog  *reps.Catalog // used by set_exercise
	HeightCM float64
	Profile  map[string]any

	Classifier    coverage.Classifier
	Adapter       pose.Adapter // for client-sent keypoints
	Feedback      Requester    // nil disables coach feedback
	FeedbackOn    bool         // start with feedback enabled
	FeedbackEvery time.Duration
	HistorySize   int
	TargetReps    int
	Clock         timeutil.Clock
	Metrics       *metrics.Metrics
	Publisher     Publisher
}

// Session is safe for concurrent use: frames may arrive from a runner while
// control messages arrive from the transport.
type Session struct {
	id        string
	cfg       Config
	clock     timeutil.Clock
	startedAt time.Time

	mu          sync.Mutex
	acc         *analysis.Accumulator
	tracker     coverage.Tracker
	machine     *reps.Machine
	cmPerPx     *float64
	heightCM    float64
	conv        *feedback.Conversation
	feedbackOn  bool
	paused      bool
	lastTrigger time.Time
	latest      *feedback.Response
	seq         uint64
	lastFrame   types.Size

	sched  *Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a session. Start must be called before frames are processed
// if feedback is configured.
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.FeedbackEvery <= 0 {
		cfg.FeedbackEvery = DefaultFeedbackInterval
	}
	if cfg.Catalog == nil {
		cfg.Catalog = reps.DefaultCatalog()
	}
	if cfg.Exercise.Name == "" {
		cfg.Exercise, _ = cfg.Catalog.Lookup("squat")
	}
	s := &Session{
		id:         cfg.ID,
		cfg:        cfg,
		clock:      cfg.Clock,
		startedAt:  cfg.Clock.Now(),
		acc:        analysis.NewAccumulator(),
		machine:    reps.NewMachine(cfg.Exercise, cfg.Clock),
		heightCM:   cfg.HeightCM,
		conv:       feedback.NewConversation(cfg.HistorySize),
		feedbackOn: cfg.FeedbackOn,
	}
	if cfg.Feedback != nil {
		s.sched = NewScheduler(cfg.Feedback, 4)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start launches the feedback worker. It returns immediately.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionsActive.Add(1)
		s.cfg.Metrics.SessionsTotal.Add(1)
	}
	if s.sched != nil {
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.sched.Run(s.ctx)
		}()
		go s.consumeFeedback()
	}
	log.Info("Session %s started (exercise=%s, source=%s)", s.id, s.cfg.Exercise.Name, s.cfg.Source)
}

// Close stops the feedback worker, abandoning any in-flight request.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed || s.cancel == nil {
		s.closed = true
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionsActive.Add(-1)
	}
	log.Info("Session %s closed", s.id)
}

func (s *Session) consumeFeedback() {
	defer s.wg.Done()
	for out := range s.sched.Results() {
		resp := out.Response
		s.mu.Lock()
		angle := 0.0
		if out.Request.Angle != nil {
			angle = *out.Request.Angle
		}
		s.conv.Record(out.Request.Exercise, angle, out.Request.Stage, resp.Feedback)
		s.latest = &resp
		s.mu.Unlock()
		s.publish(EventFeedback, FeedbackEvent{
			Exercise: out.Request.Exercise,
			RepCount: out.Request.RepCount,
			Stage:    out.Request.Stage,
			Response: resp,
		})
	}
}

// Process runs one keypoint frame through calibration, metrics, coverage and
// rep counting, and may schedule a feedback request.
func (s *Session) Process(f *pose.Frame) Payload {
	start := time.Now()
	s.mu.Lock()

	s.seq++
	s.lastFrame = types.Size{W: f.Width, H: f.Height}
	if s.cmPerPx == nil && s.heightCM > 0 {
		if v, ok := pose.PixelToCMFactor(f, s.heightCM); ok {
			s.cmPerPx = &v
			log.Info("Session %s calibrated: %.4f cm/px", s.id, v)
		}
	}

	snap := s.acc.Update(f, s.cmPerPx)
	cov := s.tracker.Observe(s.cfg.Classifier.Classify(f, f.Height))

	var res reps.Result
	if s.paused {
		st := s.machine.State()
		res = reps.Result{Stage: st.Stage, RepCount: st.RepCount}
	} else {
		res = s.machine.Observe(f)
	}

	advice := coverage.Advise(f, f.Height).Text()
	if res.Skipped {
		advice = res.Advice
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.FramesGated.Add(1)
		}
	}

	counted := res.Changed && res.Stage == reps.Down
	if s.feedbackOn && !s.paused && s.sched != nil && res.Angle != nil &&
		(res.Changed || s.clock.Since(s.lastTrigger) > s.cfg.FeedbackEvery) {
		s.sched.Trigger(s.buildRequest(res))
		s.lastTrigger = s.clock.Now()
	}

	var kps []pose.Keypoint
	if !f.Empty() {
		kps = f.Keypoints()
	}
	p := Payload{
		OK:        true,
		Session:   s.id,
		Seq:       s.seq,
		Timestamp: s.clock.Now(),
		Keypoints: kps,
		Metrics:   snap,
		Coverage:  cov,
		Advice:    advice,
		CMPerPx:   s.cmPerPx,
		Size:      s.lastFrame,
		ROI:       pose.BoundingBox(f, ROIMarginPx),
		Exercise:  s.exerciseState(res),
		Feedback:  s.latest,
	}
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FramesProcessed.Add(1)
		s.cfg.Metrics.ObserveProcess(time.Since(start))
		if counted {
			s.cfg.Metrics.RepsCounted.Add(1)
		}
	}
	if counted {
		s.publish(EventRep, RepEvent{Exercise: p.Exercise.Name, RepCount: res.RepCount, Angle: res.Angle})
	}
	return p
}

// buildRequest captures the state as of this frame. Called with s.mu held.
func (s *Session) buildRequest(res reps.Result) feedback.Request {
	sum := s.acc.Summary(s.cmPerPx)
	req := feedback.Request{
		Exercise:    s.machine.Exercise().Name,
		DisplayName: s.machine.Exercise().Label(),
		RepCount:    res.RepCount,
		Stage:       string(res.Stage),
		TargetReps:  s.cfg.TargetReps,
		Profile:     s.cfg.Profile,
		Analysis:    &sum,
		History:     s.conv.Entries(),
	}
	if res.Angle != nil {
		angle := *res.Angle
		req.Angle = &angle
	}
	return req
}

// FeedbackRequest describes the session as it stands, for an on-demand
// feedback call outside the frame loop.
func (s *Session) FeedbackRequest() feedback.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.machine.State()
	return s.buildRequest(reps.Result{Stage: st.Stage, RepCount: st.RepCount})
}

func (s *Session) exerciseState(res reps.Result) ExerciseState {
	ex := s.machine.Exercise()
	st := ExerciseState{
		Name:        ex.Name,
		DisplayName: ex.Label(),
		Stage:       res.Stage,
		RepCount:    res.RepCount,
		Paused:      s.paused,
		Feedback:    s.feedbackOn,
	}
	if res.Angle != nil {
		a := int(*res.Angle)
		st.Angle = &a
	}
	return st
}

func (s *Session) publish(kind string, v any) {
	if s.cfg.Publisher == nil {
		return
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.cfg.Publisher.Publish(ctx, s.id, kind, v); err != nil {
		log.Debug("Session %s: publish %s failed: %v", s.id, kind, err)
	}
}

// Info is a point-in-time description for status endpoints.
type Info struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id,omitempty"`
	Source     string     `json:"source"`
	Exercise   string     `json:"exercise"`
	Stage      reps.Stage `json:"stage"`
	RepCount   int        `json:"rep_count"`
	Frames     uint64     `json:"frames"`
	Calibrated bool       `json:"calibrated"`
	Paused     bool       `json:"paused"`
	Feedback   bool       `json:"feedback"`
	StartedAt  time.Time  `json:"started_at"`
}

// Info describes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.machine.State()
	return Info{
		ID:         s.id,
		UserID:     s.cfg.UserID,
		Source:     s.cfg.Source,
		Exercise:   s.machine.Exercise().Name,
		Stage:      st.Stage,
		RepCount:   st.RepCount,
		Frames:     s.seq,
		Calibrated: s.cmPerPx != nil,
		Paused:     s.paused,
		Feedback:   s.feedbackOn,
		StartedAt:  s.startedAt,
	}
}

// Summary returns the aggregated analysis so far, e.g. for saving a set result.
func (s *Session) Summary() analysis.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Summary(s.cmPerPx)
}

// LatestFeedback returns the most recent coach response, if any.
func (s *Session) LatestFeedback() (feedback.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return feedback.Response{}, false
	}
	return *s.latest, true
}

// History returns the coach dialogue so far.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Entries()
}
