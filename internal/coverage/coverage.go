// Package coverage scores how much of the body is in frame and whether the
// framing is good enough to measure.
package coverage

import (
	"math"

	"github.com/dj-oyu/pose-coach/internal/pose"
)

const (
	DefaultVisibilityThreshold = 0.35
	DefaultEdgeMarginPx        = 4.0
	// PartialScore is the lowest score still reported as a partially visible person.
	PartialScore = 0.2
)

// State is the per-frame framing classification.
type State string

const (
	NoPerson State = "no_person"
	Partial  State = "partial"
	Full     State = "full"
)

// Group is a body region scored by the classifier.
type Group string

const (
	Head      Group = "head"
	Shoulders Group = "shoulders"
	Elbows    Group = "elbows"
	Wrists    Group = "wrists"
	Hips      Group = "hips"
	Knees     Group = "knees"
	Ankles    Group = "ankles"
	Feet      Group = "feet"
)

type groupDef struct {
	name   Group
	joints []pose.Joint
	// both means every joint is required, otherwise any one suffices.
	both   bool
	weight int
}

var groups = []groupDef{
	{Head, []pose.Joint{pose.Nose, pose.LeftEar, pose.RightEar, pose.LeftEye, pose.RightEye}, false, 1},
	{Shoulders, []pose.Joint{pose.LeftShoulder, pose.RightShoulder}, true, 2},
	{Elbows, []pose.Joint{pose.LeftElbow, pose.RightElbow}, true, 1},
	{Wrists, []pose.Joint{pose.LeftWrist, pose.RightWrist}, true, 1},
	{Hips, []pose.Joint{pose.LeftHip, pose.RightHip}, true, 2},
	{Knees, []pose.Joint{pose.LeftKnee, pose.RightKnee}, true, 2},
	{Ankles, []pose.Joint{pose.LeftAnkle, pose.RightAnkle}, true, 2},
	{Feet, []pose.Joint{pose.LeftFootIndex, pose.RightFootIndex, pose.LeftHeel, pose.RightHeel}, false, 1},
}

var totalWeight = func() int {
	n := 0
	for _, g := range groups {
		n += g.weight
	}
	return n
}()

// Result is the stateless per-frame coverage value. StableFullBodyFrames is
// filled in by a Tracker and is zero straight out of Classify.
type Result struct {
	Score                float64        `json:"score"`
	VisibleGroups        map[Group]bool `json:"visible_groups"`
	IsFullBody           bool           `json:"is_full_body"`
	StableFullBodyFrames int            `json:"stable_full_body_frames"`
	State                State          `json:"state"`
}

// Classifier scores frames. The zero value uses the defaults.
type Classifier struct {
	VisibilityThreshold float64
	EdgeMarginPx        float64
}

func (c Classifier) threshold() float64 {
	if c.VisibilityThreshold > 0 {
		return c.VisibilityThreshold
	}
	return DefaultVisibilityThreshold
}

func (c Classifier) margin() float64 {
	if c.EdgeMarginPx > 0 {
		return c.EdgeMarginPx
	}
	return DefaultEdgeMarginPx
}

// Classify scores one frame for an image of the given height.
func (c Classifier) Classify(f *pose.Frame, imageHeight int) Result {
	thr := c.threshold()
	visible := make(map[Group]bool, len(groups))
	got := 0
	for _, g := range groups {
		ok := g.both
		for _, j := range g.joints {
			v := f.Visible(j, thr)
			if g.both {
				ok = ok && v
			} else if v {
				ok = true
				break
			}
		}
		visible[g.name] = ok
		if ok {
			got += g.weight
		}
	}

	score := math.Round(float64(got)/float64(totalWeight)*1000) / 1000
	full := visible[Shoulders] && visible[Hips] && visible[Knees] && visible[Ankles] &&
		(visible[Head] || visible[Feet])
	if full && !(c.insideY(f, pose.LeftAnkle, imageHeight) && c.insideY(f, pose.RightAnkle, imageHeight)) {
		full = false
	}

	state := NoPerson
	switch {
	case full:
		state = Full
	case score >= PartialScore:
		state = Partial
	}
	return Result{Score: score, VisibleGroups: visible, IsFullBody: full, State: state}
}

// insideY rejects ankles reported with high confidence while cropped off-screen.
func (c Classifier) insideY(f *pose.Frame, j pose.Joint, h int) bool {
	k, ok := f.Get(j)
	if !ok {
		return false
	}
	m := c.margin()
	return k.Y >= m && k.Y <= float64(h)-m
}

// Tracker counts consecutive full-body frames for one session.
type Tracker struct {
	stable int
}

// Observe updates the counter and returns r with StableFullBodyFrames set.
func (t *Tracker) Observe(r Result) Result {
	if r.IsFullBody {
		t.stable++
	} else {
		t.stable = 0
	}
	r.StableFullBodyFrames = t.stable
	return r
}

// Stable reports whether at least n consecutive full-body frames were seen.
func (t *Tracker) Stable(n int) bool {
	return t.stable >= n
}

// Count returns the current consecutive full-body frame count.
func (t *Tracker) Count() int {
	return t.stable
}
