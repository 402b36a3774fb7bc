package reps

import (
	"math"
	"time"

	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/timeutil"
)

// Stage is the rep-counting state.
type Stage string

const (
	Up   Stage = "up"
	Down Stage = "down"
)

// State is a copy of the machine's state.
type State struct {
	Stage          Stage     `json:"stage"`
	RepCount       int       `json:"rep_count"`
	LastTransition time.Time `json:"last_transition"`
}

// Result describes what one observation did.
type Result struct {
	Stage    Stage
	RepCount int
	// Angle is nil when the primary angle was not measurable or the frame was skipped.
	Angle *float64
	// Changed marks a stage transition on this observation.
	Changed bool
	// Skipped means a pre-check rejected the frame; Advice says why.
	Skipped bool
	Advice  string
}

// Machine tracks one exercise for one session. Not safe for concurrent use.
type Machine struct {
	ex    Exercise
	clock timeutil.Clock

	stage Stage
	count int
	last  time.Time
}

// NewMachine starts in Up with zero reps. A nil clock uses the wall clock.
func NewMachine(ex Exercise, clock timeutil.Clock) *Machine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Machine{ex: ex, clock: clock, stage: Up, last: clock.Now()}
}

// Exercise returns the configuration the machine runs.
func (m *Machine) Exercise() Exercise { return m.ex }

// State returns the current state.
func (m *Machine) State() State {
	return State{Stage: m.stage, RepCount: m.count, LastTransition: m.last}
}

// Reset zeroes the count and returns to Up.
func (m *Machine) Reset() {
	m.stage = Up
	m.count = 0
	m.last = m.clock.Now()
}

// Observe runs the pre-checks on f and then feeds its primary angle.
func (m *Machine) Observe(f *pose.Frame) Result {
	if advice, ok := m.precheck(f); !ok {
		return Result{Stage: m.stage, RepCount: m.count, Skipped: true, Advice: advice}
	}
	a, ok := f.Angle(m.ex.Angle[0], m.ex.Angle[1], m.ex.Angle[2])
	return m.ObserveAngle(a, ok)
}

// ObserveAngle advances the machine with an already measured angle.
// Entering Down counts the rep immediately, before the return to Up, so a
// rep that never comes back up still counts.
func (m *Machine) ObserveAngle(angle float64, ok bool) Result {
	if !ok || math.IsNaN(angle) {
		return Result{Stage: m.stage, RepCount: m.count}
	}
	changed := false
	switch {
	case m.stage == Up && angle < m.ex.DownBelow:
		m.stage = Down
		m.count++
		changed = true
	case m.stage == Down && angle > m.ex.UpAbove:
		m.stage = Up
		changed = true
	}
	if changed {
		m.last = m.clock.Now()
	}
	return Result{Stage: m.stage, RepCount: m.count, Angle: &angle, Changed: changed}
}

func (m *Machine) precheck(f *pose.Frame) (string, bool) {
	if g := m.ex.Gate; g != nil {
		for _, j := range g.Joints {
			k, ok := f.Get(j)
			if !ok || k.Score <= g.Threshold {
				return g.Advice, false
			}
		}
	}
	if h := m.ex.Horizontal; h != nil && f.Height > 0 {
		s, okS := f.Get(h.Shoulder)
		hp, okH := f.Get(h.Hip)
		if !okS || !okH {
			return h.Advice, false
		}
		if math.Abs(s.Y-hp.Y)/float64(f.Height) >= h.MaxFraction {
			return h.Advice, false
		}
	}
	return "", true
}
