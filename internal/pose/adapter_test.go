package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func idx(i int) *int         { return &i }

func TestParseJointSpellings(t *testing.T) {
	for _, in := range []string{"left_wrist", "LEFT_WRIST", "left wrist", "left-wrist", "leftWrist", " Left Wrist "} {
		j, ok := ParseJoint(in)
		require.True(t, ok, in)
		assert.Equal(t, LeftWrist, j, in)
	}
	_, ok := ParseJoint("tail")
	assert.False(t, ok)
	_, ok = ParseJoint("")
	assert.False(t, ok)
}

func TestOpposite(t *testing.T) {
	assert.Equal(t, RightKnee, LeftKnee.Opposite())
	assert.Equal(t, LeftFootIndex, RightFootIndex.Opposite())
	assert.Equal(t, MouthRight, MouthLeft.Opposite())
	assert.Equal(t, Nose, Nose.Opposite())
}

func TestMediaPipeByPosition(t *testing.T) {
	raw := make([]RawKeypoint, 33)
	for i := range raw {
		raw[i] = RawKeypoint{X: 0.5, Y: float64(i) / 40, Visibility: f64(0.9)}
	}
	f := Adapter{Vocabulary: MediaPipe, Normalized: true}.Frame(raw, 640, 480)

	require.Equal(t, 33, f.Len())
	k, ok := f.Get(LeftHip) // index 23
	require.True(t, ok)
	assert.InDelta(t, 320, k.X, 1e-9)
	assert.InDelta(t, 23.0/40*480, k.Y, 1e-9)
	assert.InDelta(t, 0.9, k.Score, 1e-12)

	_, ok = f.Get(RightFootIndex)
	assert.True(t, ok)
}

func TestCOCO17ByIndexAndName(t *testing.T) {
	raw := []RawKeypoint{
		{Index: idx(11), X: 100, Y: 200, Score: f64(0.8)},
		{Index: idx(16), X: 110, Y: 400, Score: f64(0.7)},
		{Name: "left knee", X: 105, Y: 300, Score: f64(0.6)},
		{Index: idx(17), X: 1, Y: 1, Score: f64(1)}, // out of range
		{Name: "tail", X: 1, Y: 1},
	}
	f := Adapter{Vocabulary: COCO17}.Frame(raw, 640, 480)

	require.Equal(t, 3, f.Len())
	k, _ := f.Get(LeftHip)
	assert.Equal(t, 100.0, k.X)
	k, _ = f.Get(RightAnkle)
	assert.Equal(t, 400.0, k.Y)
	_, ok := f.Get(LeftKnee)
	assert.True(t, ok)
	_, ok = f.Get(LeftHeel)
	assert.False(t, ok)
}

func TestAdapterDropsNonFinite(t *testing.T) {
	raw := []RawKeypoint{
		{Name: "nose", X: math.NaN(), Y: 1, Score: f64(1)},
		{Name: "left_eye", X: 1, Y: math.Inf(1), Score: f64(1)},
		{Name: "right_eye", X: 1, Y: 1, Z: math.NaN(), Score: f64(2)},
	}
	f := Adapter{}.Frame(raw, 10, 10)
	require.Equal(t, 1, f.Len())
	k, _ := f.Get(RightEye)
	assert.Equal(t, 0.0, k.Z)
	assert.Equal(t, 1.0, k.Score)
}

func TestScorePrecedence(t *testing.T) {
	assert.Equal(t, 0.3, score(RawKeypoint{Score: f64(0.3), Visibility: f64(0.9)}))
	assert.Equal(t, 0.9, score(RawKeypoint{Visibility: f64(0.9), Presence: f64(0.1)}))
	assert.Equal(t, 0.1, score(RawKeypoint{Presence: f64(0.1)}))
	assert.Equal(t, 0.0, score(RawKeypoint{}))
	assert.Equal(t, 0.0, score(RawKeypoint{Score: f64(-4)}))
}

func TestDuplicateNamesLastWins(t *testing.T) {
	f := Adapter{}.Frame([]RawKeypoint{
		{Name: "nose", X: 1, Y: 1},
		{Name: "NOSE", X: 2, Y: 2},
	}, 10, 10)
	require.Equal(t, 1, f.Len())
	k, _ := f.Get(Nose)
	assert.Equal(t, 2.0, k.X)
}

func TestMirror(t *testing.T) {
	f := NewFrame(640, 480)
	f.Set(Keypoint{Joint: LeftWrist, X: 100, Y: 50, Score: 1})
	f.Set(Keypoint{Joint: Nose, X: 320, Y: 40, Score: 1})

	m := f.Mirror()
	k, ok := m.Get(RightWrist)
	require.True(t, ok)
	assert.Equal(t, 539.0, k.X)
	assert.Equal(t, 50.0, k.Y)
	_, ok = m.Get(LeftWrist)
	assert.False(t, ok)
	n, _ := m.Get(Nose)
	assert.Equal(t, 319.0, n.X)
}

func TestParseVocabulary(t *testing.T) {
	v, err := ParseVocabulary("YOLO")
	require.NoError(t, err)
	assert.Equal(t, COCO17, v)
	v, err = ParseVocabulary("")
	require.NoError(t, err)
	assert.Equal(t, MediaPipe, v)
	_, err = ParseVocabulary("openpose")
	assert.Error(t, err)
}
