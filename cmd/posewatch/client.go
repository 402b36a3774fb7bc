package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dj-oyu/pose-coach/internal/coverage"
	"github.com/dj-oyu/pose-coach/internal/feedback"
	"github.com/dj-oyu/pose-coach/internal/session"
)

// frame is the part of a session payload the dashboard shows.
type frame struct {
	OK       bool                  `json:"ok"`
	Session  string                `json:"session"`
	Seq      uint64                `json:"seq"`
	Coverage coverage.Result       `json:"coverage"`
	Advice   string                `json:"advice"`
	CMPerPx  *float64              `json:"cm_per_px"`
	Exercise session.ExerciseState `json:"exercise"`
	Feedback *feedback.Response    `json:"feedback"`
	Error    string                `json:"error"`
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

// sessions lists the running sessions, oldest first.
func (c *client) sessions(ctx context.Context) ([]session.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions: %s", resp.Status)
	}
	var body struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return body.Sessions, nil
}

// stream reads the SSE feed of one session and calls fn for every payload
// until the feed ends, ctx is cancelled or fn fails.
func (c *client) stream(ctx context.Context, sessionID string, fn func(frame) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/sessions/"+sessionID+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe %s: %s", sessionID, resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var data []byte
	for sc.Scan() {
		line := sc.Bytes()
		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(line[len("data:"):])...)
		case len(line) == 0 && len(data) > 0:
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			data = data[:0]
			if err := fn(f); err != nil {
				return err
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sc.Err()
}
