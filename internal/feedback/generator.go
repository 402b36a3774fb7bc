// Package feedback turns session measurements into coaching advice through a
// text-generation backend and normalizes whatever the backend answers.
package feedback

import (
	"context"
	"errors"
)

// ErrUnavailable means the generator cannot be used at all, e.g. missing
// credentials or a missing CLI binary.
var ErrUnavailable = errors.New("feedback generator unavailable")

// Prompt is one request to a text-generation backend.
type Prompt struct {
	// System carries the coaching persona and output contract.
	System string
	Text   string
	// JSON asks the backend for a JSON-only reply where it supports that.
	JSON bool
}

// Generator produces raw text for a prompt. Replies are untrusted.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// StaticGenerator always answers with Reply, or Err when set. It serves
// offline mode and tests.
type StaticGenerator struct {
	Reply string
	Err   error
}

func (s StaticGenerator) Generate(ctx context.Context, _ Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}
