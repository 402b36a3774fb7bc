package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/pose-coach/internal/pose"
)

func frameWith(h int, score float64, joints map[pose.Joint]float64) *pose.Frame {
	f := pose.NewFrame(640, h)
	for j, y := range joints {
		f.Set(pose.Keypoint{Joint: j, X: 320, Y: y, Score: score})
	}
	return f
}

func fullBody() map[pose.Joint]float64 {
	return map[pose.Joint]float64{
		pose.Nose:          60,
		pose.LeftShoulder:  150,
		pose.RightShoulder: 150,
		pose.LeftHip:       300,
		pose.RightHip:      300,
		pose.LeftKnee:      420,
		pose.RightKnee:     420,
		pose.LeftAnkle:     540,
		pose.RightAnkle:    540,
	}
}

func TestClassifyFull(t *testing.T) {
	r := Classifier{}.Classify(frameWith(720, 0.9, fullBody()), 720)
	assert.Equal(t, Full, r.State)
	assert.True(t, r.IsFullBody)
	assert.Equal(t, 0.75, r.Score) // head 1 + 2+2+2+2 of 12
	assert.True(t, r.VisibleGroups[Head])
	assert.False(t, r.VisibleGroups[Wrists])
	assert.Len(t, r.VisibleGroups, 8)
}

func TestClassifyHeadAndOneHip(t *testing.T) {
	r := Classifier{}.Classify(frameWith(720, 0.9, map[pose.Joint]float64{
		pose.Nose:    60,
		pose.LeftHip: 300,
	}), 720)
	assert.False(t, r.IsFullBody)
	assert.False(t, r.VisibleGroups[Hips])
	assert.Equal(t, 0.083, r.Score)
	assert.Equal(t, NoPerson, r.State)
}

func TestClassifyPartial(t *testing.T) {
	r := Classifier{}.Classify(frameWith(720, 0.9, map[pose.Joint]float64{
		pose.Nose:          60,
		pose.LeftShoulder:  150,
		pose.RightShoulder: 150,
		pose.LeftHip:       300,
	}), 720)
	assert.False(t, r.IsFullBody)
	assert.Equal(t, 0.25, r.Score)
	assert.Equal(t, Partial, r.State)
}

func TestClassifyLowConfidence(t *testing.T) {
	r := Classifier{}.Classify(frameWith(720, 0.3, fullBody()), 720)
	assert.Equal(t, 0.0, r.Score)
	assert.Equal(t, NoPerson, r.State)

	r = Classifier{VisibilityThreshold: 0.2}.Classify(frameWith(720, 0.3, fullBody()), 720)
	assert.Equal(t, Full, r.State)
}

func TestClassifyCroppedAnkles(t *testing.T) {
	tests := []struct {
		name  string
		ankle float64
		want  State
	}{
		{"inside", 700, Full},
		{"on margin", 716, Full},
		{"past margin", 717, Partial},
		{"off screen", 760, Partial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := fullBody()
			j[pose.LeftAnkle] = tt.ankle
			r := Classifier{}.Classify(frameWith(720, 0.9, j), 720)
			assert.Equal(t, tt.want, r.State)
		})
	}
}

func TestClassifyNeedsHeadOrFeet(t *testing.T) {
	j := fullBody()
	delete(j, pose.Nose)
	r := Classifier{}.Classify(frameWith(720, 0.9, j), 720)
	assert.False(t, r.IsFullBody)

	j[pose.LeftHeel] = 560
	r = Classifier{}.Classify(frameWith(720, 0.9, j), 720)
	assert.True(t, r.IsFullBody)
}

func TestClassifyEmpty(t *testing.T) {
	r := Classifier{}.Classify(pose.NewFrame(640, 480), 480)
	assert.Equal(t, NoPerson, r.State)
	assert.Equal(t, 0.0, r.Score)
}

func TestTracker(t *testing.T) {
	var tr Tracker
	full := Result{IsFullBody: true, State: Full}
	partial := Result{State: Partial}

	assert.Equal(t, 1, tr.Observe(full).StableFullBodyFrames)
	assert.Equal(t, 2, tr.Observe(full).StableFullBodyFrames)
	assert.True(t, tr.Stable(2))
	assert.Equal(t, 0, tr.Observe(partial).StableFullBodyFrames)
	assert.False(t, tr.Stable(1))
	assert.Equal(t, 1, tr.Observe(full).StableFullBodyFrames)
}

func TestAdvise(t *testing.T) {
	tests := []struct {
		name      string
		head, toe float64
		want      Advice
	}{
		{"too close", 10, 700, AdviceStepBack},
		{"too far", 300, 500, AdviceStepCloser},
		{"good", 100, 600, AdviceMeasuring},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := frameWith(720, 0.1, map[pose.Joint]float64{
				pose.LeftEar:       tt.head,
				pose.RightFootIndex: tt.toe,
			})
			got := Advise(f, 720)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got.Text())
		})
	}
}

func TestAdviseMissingGroup(t *testing.T) {
	f := frameWith(720, 0.9, map[pose.Joint]float64{pose.Nose: 10})
	a := Advise(f, 720)
	require.Equal(t, AdviceNone, a)
	assert.Empty(t, a.Text())
	assert.Equal(t, AdviceNone, Advise(f, 0))
}
