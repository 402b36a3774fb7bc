package session

import (
	"time"

	"github.com/dj-oyu/pose-coach/internal/analysis"
	"github.com/dj-oyu/pose-coach/internal/coverage"
	"github.com/dj-oyu/pose-coach/internal/feedback"
	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/reps"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

// Payload is sent to the client for every processed frame.
type Payload struct {
	OK        bool               `json:"ok"`
	Session   string             `json:"session"`
	Seq       uint64             `json:"seq"`
	Timestamp time.Time          `json:"ts"`
	Keypoints []pose.Keypoint    `json:"keypoints"`
	Metrics   analysis.Snapshot  `json:"metrics"`
	Coverage  coverage.Result    `json:"coverage"`
	Advice    string             `json:"advice"`
	CMPerPx   *float64           `json:"cm_per_px"`
	Size      types.Size         `json:"size"`
	ROI       pose.Rect          `json:"roi"`
	Exercise  ExerciseState      `json:"exercise"`
	Feedback  *feedback.Response `json:"feedback"`
	Error     string             `json:"error,omitempty"`
}

// ExerciseState is the rep-counting part of a payload.
type ExerciseState struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Stage       reps.Stage `json:"stage"`
	RepCount    int        `json:"rep_count"`
	Angle       *int       `json:"angle"`
	Paused      bool       `json:"paused"`
	Feedback    bool       `json:"feedback"`
}

// RepEvent is published when a repetition is counted.
type RepEvent struct {
	Exercise string   `json:"exercise"`
	RepCount int      `json:"rep_count"`
	Angle    *float64 `json:"angle"`
}

// FeedbackEvent is published when a coach response arrives.
type FeedbackEvent struct {
	Exercise string            `json:"exercise"`
	RepCount int               `json:"rep_count"`
	Stage    string            `json:"stage"`
	Response feedback.Response `json:"response"`
}
