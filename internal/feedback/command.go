package feedback

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandGenerator pipes the prompt into a local LLM CLI on stdin and returns
// its stdout, e.g. Path "claude" with Args ["--print"].
type CommandGenerator struct {
	Path string
	Args []string
}

func (c CommandGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if _, err := exec.LookPath(c.Path); err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrUnavailable, c.Path)
	}
	input := p.Text
	if p.System != "" {
		input = p.System + "\n\n" + p.Text
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = strings.NewReader(input)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s: %s: %w", c.Path, strings.TrimSpace(string(out)), err)
	}
	msg := stripCodeFences(strings.TrimSpace(string(out)))
	if msg == "" {
		return "", fmt.Errorf("%s returned empty response", c.Path)
	}
	return msg, nil
}
