package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/pose-coach/internal/capture"
	"github.com/dj-oyu/pose-coach/internal/estimator"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/timeutil"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

// DefaultFPS is the camera-driven processing rate.
const DefaultFPS = 12

// Emitter delivers a payload to the client. Returning an error ends the run.
type Emitter func(Payload) error

// Runner drives a session from the shared camera: take the newest frame,
// estimate keypoints, process, emit.
type Runner struct {
	Hub       *capture.Hub
	Estimator estimator.Estimator
	Adapter   pose.Adapter
	FPS       int
	Clock     timeutil.Clock
	Metrics   *metrics.Metrics
}

// Run holds a hub lease until ctx is cancelled or emit fails. Failing to
// acquire the camera is the only error returned before the loop starts.
func (r *Runner) Run(ctx context.Context, s *Session, emit Emitter) error {
	lease, err := r.Hub.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.ID(), err)
	}
	defer lease.Release()

	fps := r.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var last *types.CaptureFrame
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		frame, ok := lease.Latest()
		if !ok || frame == last {
			continue
		}
		last = frame

		raw, err := r.Estimator.Estimate(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debug("Session %s: estimate failed: %v", s.ID(), err)
			continue
		}
		f := r.Adapter.Frame(raw, frame.Width, frame.Height)
		if frame.Mirrored {
			f = f.Mirror()
		}

		if err := emit(s.Process(f)); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}
