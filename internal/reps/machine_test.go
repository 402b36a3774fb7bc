package reps

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/timeutil"
)

func squat(t *testing.T) Exercise {
	t.Helper()
	ex, err := DefaultCatalog().Lookup("squat")
	require.NoError(t, err)
	return ex
}

func feed(m *Machine, angles ...float64) Result {
	var r Result
	for _, a := range angles {
		r = m.ObserveAngle(a, true)
	}
	return r
}

func TestSquatSingleRep(t *testing.T) {
	m := NewMachine(squat(t), nil)

	r := m.ObserveAngle(170, true)
	assert.Equal(t, Up, r.Stage)
	assert.Equal(t, 0, r.RepCount)

	r = m.ObserveAngle(95, true)
	assert.Equal(t, Down, r.Stage)
	assert.Equal(t, 1, r.RepCount, "counted on the way down")
	assert.True(t, r.Changed)

	r = m.ObserveAngle(170, true)
	assert.Equal(t, Up, r.Stage)
	assert.Equal(t, 1, r.RepCount)
	assert.True(t, r.Changed)
}

func TestSquatNoDoubleCountInDeadZone(t *testing.T) {
	m := NewMachine(squat(t), nil)
	r := feed(m, 170, 95, 130, 95, 170)
	assert.Equal(t, 1, r.RepCount)
	assert.Equal(t, Up, r.Stage)
}

func TestIncompleteRepStillCounts(t *testing.T) {
	m := NewMachine(squat(t), nil)
	r := feed(m, 170, 80, 120, 130)
	assert.Equal(t, Down, r.Stage)
	assert.Equal(t, 1, r.RepCount)
}

func TestBoundariesAreExclusive(t *testing.T) {
	m := NewMachine(squat(t), nil)
	assert.Equal(t, Up, m.ObserveAngle(100, true).Stage)
	assert.Equal(t, Down, m.ObserveAngle(99.9, true).Stage)
	assert.Equal(t, Down, m.ObserveAngle(160, true).Stage)
	assert.Equal(t, Up, m.ObserveAngle(160.1, true).Stage)
}

func TestUnmeasurableAngleHoldsState(t *testing.T) {
	m := NewMachine(squat(t), nil)
	feed(m, 90)
	r := m.ObserveAngle(0, false)
	assert.Equal(t, Down, r.Stage)
	assert.Equal(t, 1, r.RepCount)
	assert.Nil(t, r.Angle)
	assert.False(t, r.Changed)
}

func TestPushupThresholds(t *testing.T) {
	ex, err := DefaultCatalog().Lookup("Push-Up")
	require.NoError(t, err)
	m := NewMachine(ex, nil)

	r := feed(m, 170, 95)
	assert.Equal(t, Up, r.Stage, "95 is above the push-up down threshold")
	r = feed(m, 85, 165, 85)
	assert.Equal(t, 2, r.RepCount)
}

func TestReset(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	m := NewMachine(squat(t), clock)
	feed(m, 90)
	clock.Advance(time.Second)
	m.Reset()

	s := m.State()
	assert.Equal(t, Up, s.Stage)
	assert.Equal(t, 0, s.RepCount)
	assert.True(t, time.Unix(1, 0).Equal(s.LastTransition))
}

func TestLastTransitionUsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	m := NewMachine(squat(t), clock)
	clock.Advance(2 * time.Second)
	feed(m, 120) // dead zone, no transition
	assert.True(t, time.Unix(100, 0).Equal(m.State().LastTransition))
	feed(m, 90)
	assert.True(t, time.Unix(102, 0).Equal(m.State().LastTransition))
}

func lowerBody(score float64) *pose.Frame {
	f := pose.NewFrame(640, 480)
	f.Set(pose.Keypoint{Joint: pose.LeftHip, X: 300, Y: 200, Score: score})
	f.Set(pose.Keypoint{Joint: pose.LeftKnee, X: 300, Y: 300, Score: score})
	f.Set(pose.Keypoint{Joint: pose.LeftAnkle, X: 380, Y: 300, Score: score}) // 90 degrees
	return f
}

func TestSquatGate(t *testing.T) {
	m := NewMachine(squat(t), nil)

	r := m.Observe(lowerBody(0.6))
	assert.True(t, r.Skipped, "threshold is exclusive")
	assert.Equal(t, "하체 전체가 잘 보이도록 뒤로 물러나세요.", r.Advice)
	assert.Equal(t, 0, r.RepCount)
	assert.Nil(t, r.Angle)

	r = m.Observe(lowerBody(0.61))
	assert.False(t, r.Skipped)
	require.NotNil(t, r.Angle)
	assert.InDelta(t, 90, *r.Angle, 1e-9)
	assert.Equal(t, 1, r.RepCount)
}

func TestSquatGateMissingJoint(t *testing.T) {
	f := pose.NewFrame(640, 480)
	f.Set(pose.Keypoint{Joint: pose.LeftHip, X: 1, Y: 1, Score: 1})
	r := NewMachine(squat(t), nil).Observe(f)
	assert.True(t, r.Skipped)
}

func arm(shoulderY, hipY float64) *pose.Frame {
	f := pose.NewFrame(640, 480)
	f.Set(pose.Keypoint{Joint: pose.RightShoulder, X: 200, Y: shoulderY, Score: 1})
	f.Set(pose.Keypoint{Joint: pose.RightHip, X: 400, Y: hipY, Score: 1})
	f.Set(pose.Keypoint{Joint: pose.RightElbow, X: 200, Y: shoulderY + 60, Score: 1})
	f.Set(pose.Keypoint{Joint: pose.RightWrist, X: 260, Y: shoulderY + 60, Score: 1}) // 90 degrees
	return f
}

func TestPushupHorizontalCheck(t *testing.T) {
	ex, err := DefaultCatalog().Lookup("pushup")
	require.NoError(t, err)

	t.Run("standing", func(t *testing.T) {
		r := NewMachine(ex, nil).Observe(arm(100, 300))
		assert.True(t, r.Skipped)
		assert.Equal(t, "푸시업 준비 자세를 취해주세요", r.Advice)
	})
	t.Run("plank", func(t *testing.T) {
		m := NewMachine(ex, nil)
		m.ObserveAngle(170, true)
		r := m.Observe(arm(200, 230))
		assert.False(t, r.Skipped)
		require.NotNil(t, r.Angle)
		assert.InDelta(t, 90, *r.Angle, 1e-9)
	})
}

func TestCatalogFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exercises:
  - name: lunge
    display_name: Lunge
    angle: [RIGHT_HIP, right knee, right-ankle]
    down_below: 95
    up_above: 165
  - name: squat
    angle: [right_hip, right_knee, right_ankle]
    down_below: 110
    up_above: 150
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"lunge", "pushup", "squat"}, c.Names())

	l, err := c.Lookup("LUNGE")
	require.NoError(t, err)
	assert.Equal(t, [3]pose.Joint{pose.RightHip, pose.RightKnee, pose.RightAnkle}, l.Angle)
	assert.Equal(t, "Lunge", l.Label())

	s, err := c.Lookup("squat")
	require.NoError(t, err)
	assert.Equal(t, 110.0, s.DownBelow)
	assert.Nil(t, s.Gate)
}

func TestCatalogRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"bad joint":  "exercises: [{name: x, angle: [tail, left_knee, left_ankle], down_below: 90, up_above: 160}]",
		"two joints": "exercises: [{name: x, angle: [left_knee, left_ankle], down_below: 90, up_above: 160}]",
		"inverted":   "exercises: [{name: x, angle: [left_hip, left_knee, left_ankle], down_below: 170, up_above: 160}]",
		"empty gate": "exercises: [{name: x, angle: [left_hip, left_knee, left_ankle], down_below: 90, up_above: 160, gate: {threshold: 0.5}}]",
		"not yaml":   "exercises: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := DefaultCatalog().Lookup("deadlift")
	assert.ErrorIs(t, err, ErrUnknownExercise)
}
