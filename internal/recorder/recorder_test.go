package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/pose-coach/internal/estimator"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/pose"
)

func frame(seq uint64, session string) Frame {
	return Frame{
		Seq:       seq,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Session:   session,
		Width:     640,
		Height:    480,
		Keypoints: []pose.Keypoint{
			{Joint: pose.Nose, X: 320, Y: 50, Score: 0.9},
			{Joint: pose.LeftKnee, X: 300, Y: 300 + float64(seq), Score: 0.8},
		},
	}
}

func TestRecordAndReplay(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	m := metrics.New()
	r := NewRecorder(dir, m)

	assert.False(t, r.SendFrame(frame(1, "a")), "not recording")

	path, err := r.Start("")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, uint64(1), m.RecordingActive.Load())

	_, err = r.Start("")
	assert.Error(t, err, "already recording")

	for i := uint64(1); i <= 3; i++ {
		require.True(t, r.SendFrame(frame(i, "a")))
	}
	got, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, uint64(0), m.RecordingActive.Load())

	st := r.GetStatus()
	assert.False(t, st.Recording)
	assert.Equal(t, uint64(3), st.FrameCount)
	assert.Positive(t, st.BytesWritten)
	assert.Equal(t, uint64(3), m.RecordingFrames.Load())

	rep, err := estimator.OpenReplay(path)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Len())
	kps, err := rep.Estimate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, kps, 2)
	assert.Equal(t, "nose", kps[0].Name)
	assert.Equal(t, 301.0, kps[1].Y)

	_, err = r.Stop()
	assert.Error(t, err, "not recording")
}

func TestRecordFiltersSession(t *testing.T) {
	r := NewRecorder(t.TempDir(), nil)
	path, err := r.Start("mine")
	require.NoError(t, err)

	assert.False(t, r.SendFrame(frame(1, "other")))
	assert.True(t, r.SendFrame(frame(2, "mine")))
	assert.Equal(t, "mine", r.GetStatus().Session)
	require.NoError(t, r.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines []Frame
	for sc.Scan() {
		var fr Frame
		require.NoError(t, json.Unmarshal(sc.Bytes(), &fr))
		lines = append(lines, fr)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, uint64(2), lines[0].Seq)
	assert.Equal(t, "mine", lines[0].Session)
}

func TestEmptyFrameWritesEmptyList(t *testing.T) {
	r := NewRecorder(t.TempDir(), nil)
	path, err := r.Start("")
	require.NoError(t, err)
	require.True(t, r.SendFrame(Frame{Seq: 1, Width: 640, Height: 480}))
	_, err = r.Stop()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"keypoints":[]`)
}

func TestStartPicksUniqueNames(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, nil)
	first, err := r.Start("")
	require.NoError(t, err)
	_, err = r.Stop()
	require.NoError(t, err)

	second, err := r.Start("")
	require.NoError(t, err)
	defer r.Close()
	assert.NotEqual(t, first, second)
}
