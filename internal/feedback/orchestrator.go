package feedback

import (
	"context"
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
)

// DefaultTimeout bounds one generator call.
const DefaultTimeout = 10 * time.Second

var log = logger.For("Feedback")

// Orchestrator turns requests into normalized responses. Generator failures
// never escape: callers always get a well-formed Response.
type Orchestrator struct {
	gen     Generator
	timeout time.Duration
	metrics *metrics.Metrics
}

// Options tunes an Orchestrator. Zero values use defaults.
type Options struct {
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// NewOrchestrator wraps gen. A nil gen always yields fallback responses.
func NewOrchestrator(gen Generator, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{gen: gen, timeout: opts.Timeout, metrics: opts.Metrics}
}

// RequestFeedback asks for per-set or per-transition advice.
func (o *Orchestrator) RequestFeedback(ctx context.Context, req Request) Response {
	reply, err := o.generate(ctx, BuildPrompt(req))
	if err != nil {
		return Default()
	}
	return NormalizeText(reply)
}

// OverallSummary aggregates completed sets into one session narrative.
func (o *Orchestrator) OverallSummary(ctx context.Context, sets []SetResult) Response {
	if len(sets) > MaxSets {
		sets = sets[:MaxSets]
	}
	compacted := make([]any, 0, len(sets))
	for _, s := range sets {
		compacted = append(compacted, compact(map[string]any(s)))
	}
	avg := averageAccuracy(sets)

	reply, err := o.generate(ctx, BuildOverallPrompt(compacted, avg))
	var (
		r      Response
		hasAcc bool
	)
	if err == nil {
		r, hasAcc = normalizeText(reply, 0)
	} else {
		r = Default()
	}
	if !hasAcc && avg != nil {
		r.Accuracy = int(math.Round(*avg))
	}
	return r
}

func (o *Orchestrator) generate(ctx context.Context, p Prompt) (string, error) {
	if o.gen == nil {
		o.observe(0, true)
		return "", ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	reply, err := o.gen.Generate(ctx, p)
	o.observe(time.Since(start), err != nil)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnavailable):
			log.Debug("generator unavailable: %v", err)
		case errors.Is(err, context.Canceled):
			log.Debug("request abandoned")
		default:
			log.Warn("generation failed, using fallback: %v", err)
		}
		return "", err
	}
	return reply, nil
}

func (o *Orchestrator) observe(d time.Duration, failed bool) {
	if o.metrics != nil {
		o.metrics.ObserveFeedback(d, failed)
	}
}

// averageAccuracy is the mean of the numeric accuracy fields found in sets.
func averageAccuracy(sets []SetResult) *float64 {
	var xs []float64
	for _, s := range sets {
		for _, key := range []string{"accuracy", "avg_accuracy"} {
			if v, ok := s[key]; ok {
				if acc, ok := accuracy(v); ok {
					xs = append(xs, float64(acc))
				}
				break
			}
		}
	}
	if len(xs) == 0 {
		return nil
	}
	m := stat.Mean(xs, nil)
	return &m
}
