package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/pose-coach/internal/capture"
	"github.com/dj-oyu/pose-coach/internal/estimator"
	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

func stillHub(t *testing.T, mirror bool) *capture.Hub {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 640, 480)), nil))
	src, err := capture.NewStillSource(buf.Bytes(), time.Millisecond)
	require.NoError(t, err)
	return capture.NewHub(src, capture.HubOptions{Mirror: mirror})
}

var errStop = errors.New("stop")

func TestRunnerLoop(t *testing.T) {
	hub := stillHub(t, true)
	est := estimator.Func(func(ctx context.Context, f *types.CaptureFrame) ([]pose.RawKeypoint, error) {
		assert.Equal(t, 640, f.Width)
		return squatRaw(170, 0.9), nil
	})
	r := &Runner{Hub: hub, Estimator: est, FPS: 200}
	s := New(Config{})

	var got []Payload
	err := r.Run(context.Background(), s, func(p Payload) error {
		got = append(got, p)
		if len(got) == 3 {
			return errStop
		}
		return nil
	})
	assert.ErrorIs(t, err, errStop)
	require.Len(t, got, 3)
	assert.Equal(t, 0, hub.Leases(), "lease released")

	names := map[pose.Joint]bool{}
	for _, k := range got[0].Keypoints {
		names[k.Joint] = true
	}
	assert.True(t, names[pose.RightHip], "mirrored capture swaps sides")
	assert.False(t, names[pose.LeftHip])
}

func TestRunnerStopsOnCancel(t *testing.T) {
	hub := stillHub(t, false)
	est := estimator.Func(func(ctx context.Context, f *types.CaptureFrame) ([]pose.RawKeypoint, error) {
		return nil, errors.New("model down")
	})
	r := &Runner{Hub: hub, Estimator: est, FPS: 100}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, New(Config{}), func(Payload) error {
		t.Error("nothing is emitted when estimation fails")
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, hub.Leases())
}

type brokenSource struct{}

func (brokenSource) Open(context.Context) error { return errors.New("no camera") }
func (brokenSource) Next(context.Context) (*types.CaptureFrame, error) {
	return nil, capture.ErrClosed
}
func (brokenSource) Close() error { return nil }

func TestRunnerAcquireFailure(t *testing.T) {
	r := &Runner{Hub: capture.NewHub(brokenSource{}, capture.HubOptions{})}
	err := r.Run(context.Background(), New(Config{ID: "x"}), func(Payload) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no camera")
}
