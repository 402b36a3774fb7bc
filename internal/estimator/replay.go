package estimator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

// replayLine is the subset of a recorded keypoint line that Replay needs.
type replayLine struct {
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Keypoints []pose.RawKeypoint `json:"keypoints"`
}

// Replay returns recorded keypoint frames in order, one per Estimate call.
type Replay struct {
	Loop bool

	mu     sync.Mutex
	frames []replayLine
	next   int
}

// OpenReplay loads a newline-delimited JSON recording.
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()
	r, err := ReadReplay(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ReadReplay parses a recording from r. Blank lines are skipped.
func ReadReplay(r io.Reader) (*Replay, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	rp := &Replay{Loop: true}
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var l replayLine
		if err := json.Unmarshal(b, &l); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rp.frames = append(rp.frames, l)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rp.frames) == 0 {
		return nil, fmt.Errorf("recording has no frames")
	}
	return rp, nil
}

// Len returns the number of recorded frames.
func (r *Replay) Len() int {
	return len(r.frames)
}

// Estimate ignores the image and returns the next recorded frame. Once the
// recording is exhausted it wraps around when Loop is set, else returns io.EOF.
func (r *Replay) Estimate(ctx context.Context, frame *types.CaptureFrame) ([]pose.RawKeypoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.frames) {
		if !r.Loop {
			return nil, io.EOF
		}
		r.next = 0
	}
	l := r.frames[r.next]
	r.next++
	return l.Keypoints, nil
}
