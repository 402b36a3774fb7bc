// Package recorder writes processed keypoint frames to newline-delimited JSON
// files that estimator.Replay can play back.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/pose"
)

var log = logger.For("Recorder")

// Frame is one recorded line.
type Frame struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Session   string          `json:"session"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Keypoints []pose.Keypoint `json:"keypoints"`
}

// Recorder records keypoint frames to file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	w            *bufio.Writer
	filename     string
	basePath     string
	session      string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	frameChan    chan Frame
	stopChan     chan struct{}
	wg           sync.WaitGroup
	metrics      *metrics.Metrics
}

// NewRecorder creates a recorder writing under basePath. m may be nil.
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		basePath: basePath,
		metrics:  m,
	}
}

// Start starts recording to a new file. A non-empty session restricts the
// recording to that session's frames.
func (r *Recorder) Start(session string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", fmt.Errorf("already recording")
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("recording_%s.ndjson", timestamp)
	path := filepath.Join(r.basePath, filename)
	for i := 1; fileExists(path); i++ {
		filename = fmt.Sprintf("recording_%s_%d.ndjson", timestamp, i)
		path = filepath.Join(r.basePath, filename)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.w = bufio.NewWriter(file)
	r.filename = filename
	r.session = session
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.startTime = time.Now()
	r.frameChan = make(chan Frame, 120) // ~10 seconds at 12 fps
	r.stopChan = make(chan struct{})
	r.setActive(1)

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.stopChan)

	log.Info("Recording started: %s", path)
	return path, nil
}

// Stop stops recording and returns the file path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", fmt.Errorf("not recording")
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.setActive(0)
	path := filepath.Join(r.basePath, r.filename)
	if r.file != nil {
		if err := r.w.Flush(); err != nil {
			r.file.Close()
			r.file = nil
			return path, fmt.Errorf("failed to flush file: %w", err)
		}
		if err := r.file.Sync(); err != nil {
			return path, fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return path, fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}
	log.Info("Recording stopped: %s (%d frames, %d dropped)", path, r.frameCount, r.dropped.Load())
	return path, nil
}

// SendFrame queues a frame (non-blocking). It reports false when not
// recording, when the frame belongs to another session, or when the queue
// is full.
func (r *Recorder) SendFrame(f Frame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording || (r.session != "" && f.Session != r.session) {
		return false
	}
	select {
	case r.frameChan <- f:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeFrames(frames <-chan Frame, stop <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case f := <-frames:
			r.writeFrame(f)
		case <-stop:
			// Drain remaining frames
			for {
				select {
				case f := <-frames:
					r.writeFrame(f)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(f Frame) {
	if f.Keypoints == nil {
		f.Keypoints = []pose.Keypoint{}
	}
	line, err := json.Marshal(f)
	if err != nil {
		log.Warn("Failed to encode frame %d: %v", f.Seq, err)
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return
	}
	n, err := r.w.Write(line)
	if err != nil {
		log.Warn("Write failed: %v", err)
		return
	}
	r.bytesWritten += uint64(n)
	r.frameCount++
	if r.metrics != nil {
		r.metrics.RecordingFrames.Add(1)
	}
}

func (r *Recorder) setActive(v uint64) {
	if r.metrics != nil {
		r.metrics.RecordingActive.Store(v)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		Session:      r.session,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped.Load(),
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	Session      string    `json:"session,omitempty"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
