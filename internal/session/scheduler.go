package session

import (
	"context"
	"sync"

	"github.com/dj-oyu/pose-coach/internal/feedback"
)

// Outcome pairs a feedback request with the response it produced. Request
// carries the metrics snapshot taken when the request was triggered.
type Outcome struct {
	Request  feedback.Request
	Response feedback.Response
}

// Requester is the part of the feedback orchestrator the scheduler needs.
type Requester interface {
	RequestFeedback(ctx context.Context, req feedback.Request) feedback.Response
}

// Scheduler runs feedback requests off the frame loop. At most one request is
// in flight; triggers that arrive while it runs replace each other, so only
// the latest pending request is sent next.
type Scheduler struct {
	req     Requester
	results chan Outcome

	mu      sync.Mutex
	pending *feedback.Request
	busy    bool
	kick    chan struct{}
}

// NewScheduler returns a scheduler delivering at most buffer undelivered outcomes.
func NewScheduler(req Requester, buffer int) *Scheduler {
	if buffer <= 0 {
		buffer = 4
	}
	return &Scheduler{
		req:     req,
		results: make(chan Outcome, buffer),
		kick:    make(chan struct{}, 1),
	}
}

// Results delivers finished requests in completion order. It is closed when
// Run returns.
func (s *Scheduler) Results() <-chan Outcome {
	return s.results
}

// Trigger queues req. It reports false when req replaced an earlier pending one.
func (s *Scheduler) Trigger(req feedback.Request) bool {
	s.mu.Lock()
	replaced := s.pending != nil
	s.pending = &req
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return !replaced
}

// Busy reports whether a request is in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Run sends queued requests until ctx is cancelled. An in-flight request is
// abandoned on cancellation and its outcome is dropped.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.results)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}
		for {
			s.mu.Lock()
			req := s.pending
			s.pending = nil
			s.busy = req != nil
			s.mu.Unlock()
			if req == nil {
				break
			}

			resp := s.req.RequestFeedback(ctx, *req)

			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			select {
			case s.results <- Outcome{Request: *req, Response: resp}:
			case <-ctx.Done():
				return
			}
		}
	}
}
