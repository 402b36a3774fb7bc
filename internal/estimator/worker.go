package estimator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

const (
	// DefaultRequestTimeout bounds one Estimate call.
	DefaultRequestTimeout = 2 * time.Second
	writeTimeout          = 2 * time.Second
	stopTimeout           = 2 * time.Second
)

var log = logger.For("Estimator")

// WorkerConfig describes the pose model subprocess.
type WorkerConfig struct {
	Command string
	Args    []string
	Env     []string // appended to the parent environment
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Requests     uint64    `json:"requests"`
	Responses    uint64    `json:"responses"`
	Errors       uint64    `json:"errors"`
	Timeouts     uint64    `json:"timeouts"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	Running      bool      `json:"running"`
}

// Worker runs a pose model as a child process. Frames go to its stdin and
// keypoints come back on stdout, both as length-prefixed msgpack. Requests
// may be issued concurrently; responses are matched by seq.
type Worker struct {
	cfg WorkerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *logger.LineWriter

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  atomic.Bool
	exited  chan struct{}
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan Response

	seq            atomic.Uint64
	requests       atomic.Uint64
	responses      atomic.Uint64
	failures       atomic.Uint64
	timeouts       atomic.Uint64
	totalLatencyMs atomic.Uint64
	lastSeenAt     atomic.Value // time.Time
}

// NewWorker validates cfg. The process is spawned by Start.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("estimator command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return &Worker{cfg: cfg}, nil
}

// Start spawns the worker process.
func (w *Worker) Start(ctx context.Context) error {
	if w.active.Load() {
		return fmt.Errorf("estimator already started")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.pending = make(map[uint64]chan Response)
	w.exited = make(chan struct{})

	w.cmd = exec.CommandContext(w.ctx, w.cfg.Command, w.cfg.Args...)
	if len(w.cfg.Env) > 0 {
		w.cmd.Env = append(os.Environ(), w.cfg.Env...)
	}
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		w.cancel()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		w.cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	w.stdin, w.stdout = stdin, stdout
	w.stderr = logger.NewLineWriter("Estimator")
	w.cmd.Stderr = w.stderr

	if err := w.cmd.Start(); err != nil {
		w.cancel()
		return fmt.Errorf("failed to start estimator process: %w", err)
	}
	w.active.Store(true)
	w.lastSeenAt.Store(time.Now())
	log.Info("Estimator process started (pid %d): %s", w.cmd.Process.Pid, w.cfg.Command)

	w.wg.Add(2)
	go w.readResponses()
	go w.waitProcess()
	return nil
}

// Estimate sends one frame and waits for its keypoints.
func (w *Worker) Estimate(ctx context.Context, frame *types.CaptureFrame) ([]pose.RawKeypoint, error) {
	if !w.active.Load() {
		return nil, ErrNotRunning
	}
	seq := w.seq.Add(1)
	reply := make(chan Response, 1)
	w.mu.Lock()
	w.pending[seq] = reply
	w.mu.Unlock()
	defer w.forget(seq)

	w.requests.Add(1)
	start := time.Now()
	req := Request{Seq: seq, FrameData: frame.Data, Width: frame.Width, Height: frame.Height}
	if err := w.send(req); err != nil {
		w.fail()
		return nil, err
	}

	timer := time.NewTimer(w.cfg.Timeout)
	defer timer.Stop()
	select {
	case resp := <-reply:
		elapsed := time.Since(start)
		w.totalLatencyMs.Add(uint64(elapsed.Milliseconds()))
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ObserveEstimate(elapsed)
		}
		if resp.Error != "" {
			w.fail()
			return nil, fmt.Errorf("estimator: %s", resp.Error)
		}
		return resp.Keypoints, nil
	case <-timer.C:
		w.timeouts.Add(1)
		w.fail()
		return nil, fmt.Errorf("estimator timed out after %v", w.cfg.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.exited:
		w.fail()
		return nil, ErrNotRunning
	}
}

func (w *Worker) forget(seq uint64) {
	w.mu.Lock()
	delete(w.pending, seq)
	w.mu.Unlock()
}

func (w *Worker) fail() {
	w.failures.Add(1)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.EstimatorErrors.Add(1)
	}
}

// send writes one request with a timeout so a hung child cannot block callers.
func (w *Worker) send(req Request) error {
	done := make(chan error, 1)
	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		done <- WriteMessage(w.stdin, req)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to write to estimator stdin: %w", err)
		}
		return nil
	case <-time.After(writeTimeout):
		return fmt.Errorf("estimator stdin write timeout (worker may be hung)")
	case <-w.ctx.Done():
		return ErrNotRunning
	}
}

func (w *Worker) readResponses() {
	defer w.wg.Done()
	for {
		var resp Response
		err := ReadMessage(w.stdout, &resp)
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			log.Debug("Estimator stdout closed")
			return
		}
		if err != nil {
			log.Error("Failed to read estimator response: %v", err)
			return
		}
		w.responses.Add(1)
		w.lastSeenAt.Store(time.Now())

		w.mu.Lock()
		reply, ok := w.pending[resp.Seq]
		w.mu.Unlock()
		if !ok {
			log.Debug("Dropping late response seq=%d", resp.Seq)
			continue
		}
		select {
		case reply <- resp:
		default:
		}
	}
}

func (w *Worker) waitProcess() {
	defer w.wg.Done()
	err := w.cmd.Wait()
	w.active.Store(false)
	close(w.exited)
	w.stderr.Flush()
	select {
	case <-w.ctx.Done():
		log.Debug("Estimator process exited (shutdown)")
	default:
		if err != nil {
			log.Error("Estimator process exited unexpectedly: %v", err)
		} else {
			log.Info("Estimator process exited cleanly")
		}
	}
}

// Stop closes stdin and waits for the child, killing it after a grace period.
func (w *Worker) Stop() error {
	if w.cmd == nil || w.cancel == nil {
		return nil
	}
	if w.stdin != nil {
		w.stdin.Close()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("Estimator stopped")
	case <-time.After(stopTimeout):
		log.Warn("Estimator stop timeout, killing process")
		w.cancel()
		if w.cmd.Process != nil {
			if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				log.Error("Failed to kill estimator process: %v", err)
			}
		}
		<-done
	}
	w.cancel()
	w.active.Store(false)
	return nil
}

// Running reports whether the child process is alive.
func (w *Worker) Running() bool {
	return w.active.Load()
}

// Stats returns current counters.
func (w *Worker) Stats() Stats {
	s := Stats{
		Requests:  w.requests.Load(),
		Responses: w.responses.Load(),
		Errors:    w.failures.Load(),
		Timeouts:  w.timeouts.Load(),
		Running:   w.active.Load(),
	}
	if s.Responses > 0 {
		s.AvgLatencyMs = float64(w.totalLatencyMs.Load()) / float64(s.Responses)
	}
	if v, ok := w.lastSeenAt.Load().(time.Time); ok {
		s.LastSeenAt = v
	}
	return s
}
