// Package reps counts exercise repetitions with a two-stage angle state machine.
package reps

import (
	"fmt"

	"github.com/dj-oyu/pose-coach/internal/pose"
)

// Gate skips counting when any listed joint is not confidently visible.
type Gate struct {
	Joints []pose.Joint
	// Threshold is exclusive: a joint passes when its score is strictly above it.
	Threshold float64
	Advice    string
}

// HorizontalCheck skips counting unless the body is roughly horizontal,
// measured as the vertical shoulder-to-hip distance over the image height.
type HorizontalCheck struct {
	Shoulder    pose.Joint
	Hip         pose.Joint
	MaxFraction float64
	Advice      string
}

// Exercise describes which angle drives the machine and where the stage
// boundaries sit.
type Exercise struct {
	Name        string
	DisplayName string
	// Angle is measured at the middle joint.
	Angle      [3]pose.Joint
	DownBelow  float64
	UpAbove    float64
	Gate       *Gate
	Horizontal *HorizontalCheck
}

// Validate rejects exercises the machine cannot run.
func (e Exercise) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("exercise name is empty")
	}
	for _, j := range e.Angle {
		if !j.Valid() {
			return fmt.Errorf("exercise %s: invalid angle joint %q", e.Name, j)
		}
	}
	if e.DownBelow <= 0 || e.UpAbove > 180 || e.DownBelow >= e.UpAbove {
		return fmt.Errorf("exercise %s: thresholds must satisfy 0 < down_below < up_above <= 180 (got %v, %v)",
			e.Name, e.DownBelow, e.UpAbove)
	}
	if e.Gate != nil {
		if len(e.Gate.Joints) == 0 {
			return fmt.Errorf("exercise %s: gate has no joints", e.Name)
		}
		for _, j := range e.Gate.Joints {
			if !j.Valid() {
				return fmt.Errorf("exercise %s: invalid gate joint %q", e.Name, j)
			}
		}
	}
	if h := e.Horizontal; h != nil {
		if !h.Shoulder.Valid() || !h.Hip.Valid() || h.MaxFraction <= 0 {
			return fmt.Errorf("exercise %s: invalid horizontal check", e.Name)
		}
	}
	return nil
}

// Label is the display name, falling back to the identifier.
func (e Exercise) Label() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.Name
}
