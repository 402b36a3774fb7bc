// Package estimator turns captured images into raw pose keypoints by talking to
// an external pose model, or by replaying a recording.
package estimator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

// ErrNotRunning is returned when the worker process is not started or has exited.
var ErrNotRunning = errors.New("estimator not running")

// MaxMessageBytes bounds one framed message in either direction.
const MaxMessageBytes = 32 << 20

// Estimator detects the body keypoints in one frame. An empty result means no
// person was found.
type Estimator interface {
	Estimate(ctx context.Context, frame *types.CaptureFrame) ([]pose.RawKeypoint, error)
}

// Func adapts a function to Estimator.
type Func func(ctx context.Context, frame *types.CaptureFrame) ([]pose.RawKeypoint, error)

func (f Func) Estimate(ctx context.Context, frame *types.CaptureFrame) ([]pose.RawKeypoint, error) {
	return f(ctx, frame)
}

// Request is sent to the worker for each frame.
type Request struct {
	Seq       uint64 `msgpack:"seq"`
	FrameData []byte `msgpack:"frame_data"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
}

// Response is the worker's answer to one Request.
type Response struct {
	Seq       uint64             `msgpack:"seq"`
	Keypoints []pose.RawKeypoint `msgpack:"keypoints"`
	Timing    map[string]float64 `msgpack:"timing,omitempty"`
	Error     string             `msgpack:"error,omitempty"`
}

// WriteMessage writes v as msgpack behind a 4-byte big-endian length prefix.
func WriteMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(data) > MaxMessageBytes {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v.
// io.EOF is returned unwrapped when the stream ends between messages.
func ReadMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxMessageBytes {
		return fmt.Errorf("message too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read msgpack data (expected %d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
