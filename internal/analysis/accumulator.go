// Package analysis accumulates biomechanical measurements over one session:
// running extrema of joint angles, smoothed limb lengths and the adaptive
// thresholds derived from them.
package analysis

import (
	"math"

	"github.com/dj-oyu/pose-coach/internal/pose"
)

// DefaultAlpha is the EMA smoothing factor for segment lengths.
const DefaultAlpha = 0.2

// ShoulderFlexionGoalDeg is the fixed overhead-reach target.
const ShoulderFlexionGoalDeg = 160

// MinScore is the confidence every joint of a measurement needs.
const MinScore = pose.CalibrationVisibility

// Segment names a tracked limb segment.
type Segment int

const (
	ThighL Segment = iota
	ThighR
	ShankL
	ShankR
	UpperArmL
	UpperArmR
	ForearmL
	ForearmR
	numSegments
)

type segmentDef struct {
	key  string
	a, b pose.Joint
}

var segments = [numSegments]segmentDef{
	ThighL:    {"thighL", pose.LeftHip, pose.LeftKnee},
	ThighR:    {"thighR", pose.RightHip, pose.RightKnee},
	ShankL:    {"shankL", pose.LeftKnee, pose.LeftAnkle},
	ShankR:    {"shankR", pose.RightKnee, pose.RightAnkle},
	UpperArmL: {"upperArmL", pose.LeftShoulder, pose.LeftElbow},
	UpperArmR: {"upperArmR", pose.RightShoulder, pose.RightElbow},
	ForearmL:  {"forearmL", pose.LeftElbow, pose.LeftWrist},
	ForearmR:  {"forearmR", pose.RightElbow, pose.RightWrist},
}

func (s Segment) String() string {
	if s < 0 || s >= numSegments {
		return "unknown"
	}
	return segments[s].key
}

// Accumulator is session-scoped and not safe for concurrent use.
// A session owns exactly one.
type Accumulator struct {
	alpha float64

	minKneeL, minKneeR float64
	maxTrunk           float64
	maxValgus          float64
	overhead           bool

	lengths [numSegments]float64
	hasLen  [numSegments]bool

	frames int
}

// NewAccumulator returns an accumulator with the default smoothing factor.
func NewAccumulator() *Accumulator {
	return NewAccumulatorAlpha(DefaultAlpha)
}

// NewAccumulatorAlpha returns an accumulator with a custom smoothing factor in (0,1].
func NewAccumulatorAlpha(alpha float64) *Accumulator {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Accumulator{
		alpha:    alpha,
		minKneeL: math.Inf(1),
		minKneeR: math.Inf(1),
	}
}

// Update folds one frame into the running state and returns the snapshot.
// cmPerPx may be nil while calibration is unresolved.
func (a *Accumulator) Update(f *pose.Frame, cmPerPx *float64) Snapshot {
	if !f.Empty() {
		a.observe(f)
	}
	return a.snapshot(f, cmPerPx)
}

// Snapshot returns the current state without observing a frame.
func (a *Accumulator) Snapshot(cmPerPx *float64) Snapshot {
	return a.snapshot(nil, cmPerPx)
}

// Frames is the number of non-empty frames observed.
func (a *Accumulator) Frames() int {
	return a.frames
}

func (a *Accumulator) observe(f *pose.Frame) {
	a.frames++

	if k, ok := angle(f, pose.LeftHip, pose.LeftKnee, pose.LeftAnkle); ok {
		a.minKneeL = math.Min(a.minKneeL, k)
	}
	if k, ok := angle(f, pose.RightHip, pose.RightKnee, pose.RightAnkle); ok {
		a.minKneeR = math.Min(a.minKneeR, k)
	}

	tL, okL := angle(f, pose.LeftShoulder, pose.LeftHip, pose.LeftAnkle)
	tR, okR := angle(f, pose.RightShoulder, pose.RightHip, pose.RightAnkle)
	if okL || okR {
		a.maxTrunk = math.Max(a.maxTrunk, math.Max(tL, tR))
	}

	for _, side := range [...][3]pose.Joint{
		{pose.LeftHip, pose.LeftKnee, pose.LeftAnkle},
		{pose.RightHip, pose.RightKnee, pose.RightAnkle},
	} {
		if v, ok := valgus(f, side[0], side[1], side[2]); ok {
			a.maxValgus = math.Max(a.maxValgus, v)
		}
	}

	if raised(f, pose.LeftWrist, pose.LeftShoulder) || raised(f, pose.RightWrist, pose.RightShoulder) {
		a.overhead = true
	}

	for i, s := range segments {
		if !visible(f, s.a, s.b) {
			continue
		}
		raw, ok := f.SegmentLength(s.a, s.b)
		if !ok || raw == 0 {
			continue
		}
		if !a.hasLen[i] {
			a.lengths[i], a.hasLen[i] = raw, true
			continue
		}
		a.lengths[i] = a.lengths[i]*(1-a.alpha) + raw*a.alpha
	}
}

func visible(f *pose.Frame, joints ...pose.Joint) bool {
	for _, j := range joints {
		if !f.Visible(j, MinScore) {
			return false
		}
	}
	return true
}

func angle(f *pose.Frame, a, b, c pose.Joint) (float64, bool) {
	if !visible(f, a, b, c) {
		return 0, false
	}
	return f.Angle(a, b, c)
}

// valgus is a signed horizontal-deviation proxy for inward knee collapse:
// (knee.x − hip.x) − (ankle.x − hip.x). It is in image units, not an angle.
func valgus(f *pose.Frame, hip, knee, ankle pose.Joint) (float64, bool) {
	if !visible(f, hip, knee, ankle) {
		return 0, false
	}
	h, _ := f.Get(hip)
	k, _ := f.Get(knee)
	an, _ := f.Get(ankle)
	return (k.X - h.X) - (an.X - h.X), true
}

// raised reports a wrist above (numerically less y than) its shoulder.
func raised(f *pose.Frame, wrist, shoulder pose.Joint) bool {
	if !visible(f, wrist, shoulder) {
		return false
	}
	w, _ := f.Get(wrist)
	s, _ := f.Get(shoulder)
	return w.Y < s.Y
}

// SegmentPx returns the smoothed pixel length of a segment.
func (a *Accumulator) SegmentPx(s Segment) (float64, bool) {
	if s < 0 || s >= numSegments || !a.hasLen[s] {
		return 0, false
	}
	return a.lengths[s], true
}

// MinKnee is the smaller of the two running knee minima.
func (a *Accumulator) MinKnee() (float64, bool) {
	m := math.Min(a.minKneeL, a.minKneeR)
	return m, !math.IsInf(m, 1)
}

// DeriveThresholds computes the adaptive thresholds from the current extrema.
func (a *Accumulator) DeriveThresholds() Thresholds {
	minKnee, ok := a.MinKnee()
	if !ok {
		minKnee = 90
	}
	t := Thresholds{
		KneeDepthAngleLE:       int(clamp(minKnee+8, 75, 110)),
		ValgusIndexMax:         round(clamp(a.maxValgus+0.02, 0.12, 0.25), 2),
		ShoulderFlexionGoalDeg: ShoulderFlexionGoalDeg,
	}
	if a.maxTrunk != 0 {
		v := int(math.Min(a.maxTrunk+5, 45))
		t.TrunkFlexionMaxDeg = &v
	}
	return t
}

func (a *Accumulator) snapshot(f *pose.Frame, cmPerPx *float64) Snapshot {
	s := Snapshot{
		ValgusIndexMax: round(a.maxValgus, 3),
		OverheadOK:     a.overhead,
		Thresholds:     a.DeriveThresholds(),
	}
	if m, ok := a.MinKnee(); ok {
		v := math.Round(m)
		s.KneeMinAngleDeg = &v
	}
	if a.maxTrunk != 0 {
		v := round(a.maxTrunk, 1)
		s.TrunkMaxFlexionDeg = &v
	}

	cm := func(seg Segment) *float64 {
		px, ok := a.SegmentPx(seg)
		if !ok || cmPerPx == nil || *cmPerPx == 0 {
			return nil
		}
		v := round(px**cmPerPx, 1)
		return &v
	}
	s.LengthsCM = LengthsCM{
		ThighL:    cm(ThighL),
		ThighR:    cm(ThighR),
		ShankL:    cm(ShankL),
		ShankR:    cm(ShankR),
		UpperArmL: cm(UpperArmL),
		UpperArmR: cm(UpperArmR),
		ForearmL:  cm(ForearmL),
		ForearmR:  cm(ForearmR),
	}
	s.Symmetry = symmetry(f, s.LengthsCM)
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
