package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/reps"
)

// Control message types accepted from clients.
const (
	ControlStartFeedback = "start_feedback"
	ControlStopFeedback  = "stop_feedback"
	ControlPause         = "pause"
	ControlResume        = "resume"
	ControlKeypoints     = "keypoints"
	ControlSetHeight     = "set_height"
	ControlSetExercise   = "set_exercise"
)

// Image size assumed for normalized client keypoints that carry no size.
const (
	DefaultClientWidth  = 640
	DefaultClientHeight = 480
)

// Keypoint sources of a session.
const (
	SourceCamera = "camera" // server camera + estimator
	SourceClient = "client" // keypoints arrive as control messages
)

var (
	ErrUnknownControl      = errors.New("unknown control message")
	ErrFeedbackUnavailable = errors.New("feedback is not configured")
	ErrCameraSession       = errors.New("keypoints are estimated by the server camera in this session")
)

// Control is one inbound client message.
type Control struct {
	Type       string             `json:"type"`
	Keypoints  []pose.RawKeypoint `json:"keypoints,omitempty"`
	Width      int                `json:"width,omitempty"`
	Height     int                `json:"height,omitempty"`
	Vocabulary string             `json:"vocabulary,omitempty"`
	Normalized *bool              `json:"normalized,omitempty"`
	HeightCM   float64            `json:"height_cm,omitempty"`
	Exercise   string             `json:"exercise,omitempty"`
}

// ParseControl decodes a client message. A bare JSON array is taken as a
// keypoints message, which is what browser-side pose estimators send.
func ParseControl(data []byte) (Control, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Control{}, fmt.Errorf("empty control message")
	}
	if data[0] == '[' {
		var kps []pose.RawKeypoint
		if err := json.Unmarshal(data, &kps); err != nil {
			return Control{}, fmt.Errorf("invalid keypoints array: %w", err)
		}
		return Control{Type: ControlKeypoints, Keypoints: kps}, nil
	}
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("invalid control message: %w", err)
	}
	if c.Type == "" {
		return Control{}, fmt.Errorf("control message has no type")
	}
	return c, nil
}

// Handle applies a control message. A keypoints message returns the payload
// for that frame; other messages return nil.
func (s *Session) Handle(c Control) (*Payload, error) {
	switch c.Type {
	case ControlKeypoints:
		if s.cfg.Source == SourceCamera {
			return nil, ErrCameraSession
		}
		f, err := s.clientFrame(c)
		if err != nil {
			return nil, err
		}
		p := s.Process(f)
		return &p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch c.Type {
	case ControlStartFeedback:
		if s.sched == nil {
			return nil, ErrFeedbackUnavailable
		}
		s.feedbackOn = true
	case ControlStopFeedback:
		s.feedbackOn = false
	case ControlPause:
		s.paused = true
		s.machine.Reset()
	case ControlResume:
		s.paused = false
		s.machine.Reset()
	case ControlSetHeight:
		if c.HeightCM <= 0 {
			return nil, fmt.Errorf("height_cm must be positive, got %v", c.HeightCM)
		}
		// an existing calibration is kept
		s.heightCM = c.HeightCM
	case ControlSetExercise:
		ex, err := s.cfg.Catalog.Lookup(c.Exercise)
		if err != nil {
			return nil, err
		}
		s.machine = reps.NewMachine(ex, s.clock)
		s.lastTrigger = s.clock.Now()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownControl, c.Type)
	}
	log.Debug("Session %s: control %s", s.id, c.Type)
	return nil, nil
}

// clientFrame converts client-sent keypoints using the session adapter,
// with per-message overrides.
func (s *Session) clientFrame(c Control) (*pose.Frame, error) {
	ad := s.cfg.Adapter
	if c.Vocabulary != "" {
		v, err := pose.ParseVocabulary(c.Vocabulary)
		if err != nil {
			return nil, err
		}
		ad.Vocabulary = v
	}
	switch {
	case c.Normalized != nil:
		ad.Normalized = *c.Normalized
	case !ad.Normalized:
		ad.Normalized = looksNormalized(c.Keypoints)
	}
	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultClientWidth, DefaultClientHeight
	}
	return ad.Frame(c.Keypoints, w, h), nil
}

// looksNormalized reports whether every coordinate is within a unit image.
// Landmarks slightly off-screen are allowed, so the bounds are loose.
func looksNormalized(kps []pose.RawKeypoint) bool {
	if len(kps) == 0 {
		return false
	}
	for _, k := range kps {
		if k.X < -1 || k.X > 2 || k.Y < -1 || k.Y > 2 {
			return false
		}
	}
	return true
}
