package analysis

import (
	"math"

	"github.com/dj-oyu/pose-coach/internal/pose"
)

// Thresholds are re-derived on every update from the running extrema.
type Thresholds struct {
	KneeDepthAngleLE       int     `json:"knee_depth_angle_le"`
	TrunkFlexionMaxDeg     *int    `json:"trunk_flexion_max_deg"`
	ValgusIndexMax         float64 `json:"valgus_index_max"`
	ShoulderFlexionGoalDeg int     `json:"shoulder_flexion_goal_deg"`
}

// LengthsCM holds smoothed segment lengths in centimeters; nil until
// calibration resolves or the segment has been seen.
type LengthsCM struct {
	ThighL    *float64 `json:"thighL"`
	ThighR    *float64 `json:"thighR"`
	ShankL    *float64 `json:"shankL"`
	ShankR    *float64 `json:"shankR"`
	UpperArmL *float64 `json:"upperArmL"`
	UpperArmR *float64 `json:"upperArmR"`
	ForearmL  *float64 `json:"forearmL"`
	ForearmR  *float64 `json:"forearmR"`
}

// Symmetry compares left and right sides. Pixel deltas come from the current
// frame, centimeter deltas from the smoothed lengths.
type Symmetry struct {
	ShoulderDeltaPx *float64 `json:"shoulder_delta_px"`
	PelvisDeltaPx   *float64 `json:"pelvis_delta_px"`
	UpperArmDeltaCM *float64 `json:"upper_arm_delta_cm"`
	ThighDeltaCM    *float64 `json:"thigh_delta_cm"`
}

// Snapshot is an immutable view of the accumulator after one update.
type Snapshot struct {
	KneeMinAngleDeg    *float64   `json:"knee_min_angle_deg"`
	TrunkMaxFlexionDeg *float64   `json:"trunk_max_flexion_deg"`
	ValgusIndexMax     float64    `json:"valgus_index_max"`
	OverheadOK         bool       `json:"overhead_ok"`
	LengthsCM          LengthsCM  `json:"lengths_cm"`
	Symmetry           Symmetry   `json:"symmetry"`
	Thresholds         Thresholds `json:"thresholds"`
}

func symmetry(f *pose.Frame, l LengthsCM) Symmetry {
	return Symmetry{
		ShoulderDeltaPx: yDelta(f, pose.LeftShoulder, pose.RightShoulder),
		PelvisDeltaPx:   yDelta(f, pose.LeftHip, pose.RightHip),
		UpperArmDeltaCM: absDelta(l.UpperArmL, l.UpperArmR),
		ThighDeltaCM:    absDelta(l.ThighL, l.ThighR),
	}
}

func yDelta(f *pose.Frame, a, b pose.Joint) *float64 {
	if !visible(f, a, b) {
		return nil
	}
	ka, _ := f.Get(a)
	kb, _ := f.Get(b)
	v := round(math.Abs(ka.Y-kb.Y), 1)
	return &v
}

func absDelta(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := round(math.Abs(*a-*b), 1)
	return &v
}

// Summary is the pre-aggregated analysis handed to the feedback generator.
// It never carries per-frame landmark data.
type Summary struct {
	Frames          int                `json:"frames"`
	KneeMinAngle    *float64           `json:"knee_min_angle_deg,omitempty"`
	TrunkMaxFlexion *float64           `json:"trunk_max_flexion_deg,omitempty"`
	ValgusIndexMax  float64            `json:"valgus_index_max"`
	OverheadOK      bool               `json:"overhead_ok"`
	LengthsCM       map[string]float64 `json:"lengths_cm,omitempty"`
	Thresholds      Thresholds         `json:"thresholds"`
}

// Summarize condenses a snapshot for the feedback request. Absent lengths are
// omitted rather than sent as nulls.
func Summarize(s Snapshot, frames int) Summary {
	out := Summary{
		Frames:          frames,
		KneeMinAngle:    s.KneeMinAngleDeg,
		TrunkMaxFlexion: s.TrunkMaxFlexionDeg,
		ValgusIndexMax:  s.ValgusIndexMax,
		OverheadOK:      s.OverheadOK,
		Thresholds:      s.Thresholds,
	}
	for k, v := range map[string]*float64{
		"thighL":    s.LengthsCM.ThighL,
		"thighR":    s.LengthsCM.ThighR,
		"shankL":    s.LengthsCM.ShankL,
		"shankR":    s.LengthsCM.ShankR,
		"upperArmL": s.LengthsCM.UpperArmL,
		"upperArmR": s.LengthsCM.UpperArmR,
		"forearmL":  s.LengthsCM.ForearmL,
		"forearmR":  s.LengthsCM.ForearmR,
	} {
		if v == nil {
			continue
		}
		if out.LengthsCM == nil {
			out.LengthsCM = make(map[string]float64, 8)
		}
		out.LengthsCM[k] = *v
	}
	return out
}

// Summary condenses the current state.
func (a *Accumulator) Summary(cmPerPx *float64) Summary {
	return Summarize(a.Snapshot(cmPerPx), a.frames)
}
