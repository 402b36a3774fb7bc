package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

// ReconnectDelay is the pause before reopening a source that failed.
const ReconnectDelay = time.Second

// Hub owns one capture device and shares its newest frame with any number of
// sessions. The reader runs only while at least one Lease is held.
type Hub struct {
	src     Source
	mirror  bool
	metrics *metrics.Metrics

	mu      sync.Mutex // guards leases, running, busy, cancel, done
	leases  int
	running bool
	// busy is non-nil while the source is being opened or torn down and is
	// closed when that finishes. Source calls happen outside mu.
	busy   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	frameMu sync.RWMutex // single writer: the reader goroutine
	latest  *types.CaptureFrame
}

// HubOptions configures a Hub.
type HubOptions struct {
	// Mirror marks frames so keypoints are mirrored after estimation.
	Mirror  bool
	Metrics *metrics.Metrics
}

// NewHub wraps src. Nothing is opened until the first Acquire.
func NewHub(src Source, opts HubOptions) *Hub {
	return &Hub{src: src, mirror: opts.Mirror, metrics: opts.Metrics}
}

// Lease is one session's handle on the hub.
type Lease struct {
	hub  *Hub
	once sync.Once
}

// Acquire returns a lease, opening the source if this is the first one.
// ctx bounds only the open; the reader outlives it. Concurrent callers wait
// for an open in progress instead of opening again.
func (h *Hub) Acquire(ctx context.Context) (*Lease, error) {
	for {
		h.mu.Lock()
		if h.running {
			h.leases++
			h.mu.Unlock()
			return &Lease{hub: h}, nil
		}
		if busy := h.busy; busy != nil {
			h.mu.Unlock()
			select {
			case <-busy:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("failed to open capture source: %w", ctx.Err())
			}
		}
		busy := make(chan struct{})
		h.busy = busy
		h.mu.Unlock()

		rctx, cancel, err := h.open(ctx)

		h.mu.Lock()
		h.busy = nil
		close(busy)
		if err != nil {
			h.mu.Unlock()
			return nil, fmt.Errorf("failed to open capture source: %w", err)
		}
		h.running = true
		h.cancel = cancel
		h.done = make(chan struct{})
		h.leases++
		go h.read(rctx, h.done)
		h.mu.Unlock()
		logger.Info("Capture", "Capture started")
		return &Lease{hub: h}, nil
	}
}

// open opens the source with a context that survives ctx once the open
// has succeeded.
func (h *Hub) open(ctx context.Context) (context.Context, context.CancelFunc, error) {
	rctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	err := h.src.Open(rctx)
	if !stop() && err == nil {
		err = ctx.Err()
		h.src.Close()
	}
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return rctx, cancel, nil
}

// Leases returns the number of live leases.
func (h *Hub) Leases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leases
}

func (h *Hub) release() {
	h.mu.Lock()
	h.leases--
	if h.leases > 0 {
		h.mu.Unlock()
		return
	}
	cancel, done := h.cancel, h.done
	h.running = false
	busy := make(chan struct{})
	h.busy = busy
	h.mu.Unlock()

	cancel()
	h.src.Close()
	<-done
	h.frameMu.Lock()
	h.latest = nil
	h.frameMu.Unlock()

	h.mu.Lock()
	h.busy = nil
	close(busy)
	h.mu.Unlock()
	logger.Info("Capture", "Capture stopped (no sessions)")
}

func (h *Hub) read(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		frame, err := h.src.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("Capture", "Read error: %v", err)
			if !h.reopen(ctx) {
				return
			}
			continue
		}
		frame.Mirrored = h.mirror
		h.frameMu.Lock()
		h.latest = frame
		h.frameMu.Unlock()
		if h.metrics != nil {
			h.metrics.FramesCaptured.Add(1)
		}
	}
}

// reopen retries the source until it opens or ctx ends.
func (h *Hub) reopen(ctx context.Context) bool {
	for {
		h.src.Close()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(ReconnectDelay):
		}
		err := h.src.Open(ctx)
		if err == nil {
			logger.Info("Capture", "Capture source reopened")
			return true
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return false
		}
		logger.Warn("Capture", "Reopen failed: %v", err)
	}
}

// Latest returns the newest captured frame, or false before the first one.
func (l *Lease) Latest() (*types.CaptureFrame, bool) {
	l.hub.frameMu.RLock()
	defer l.hub.frameMu.RUnlock()
	return l.hub.latest, l.hub.latest != nil
}

// Release gives the lease back. Calling it twice is harmless.
func (l *Lease) Release() {
	l.once.Do(l.hub.release)
}
