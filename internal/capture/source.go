// Package capture reads camera images and shares the newest one between
// sessions through an explicitly acquired Hub.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/pose-coach/pkg/types"
)

// ErrClosed is returned by Next after Close, or before Open.
var ErrClosed = errors.New("capture source closed")

// maxFrameBytes bounds a single JPEG part.
const maxFrameBytes = 8 << 20

// Source produces camera frames. Next blocks until a frame is available.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (*types.CaptureFrame, error)
	Close() error
}

// MJPEGSource reads a multipart/x-mixed-replace JPEG stream over HTTP, as
// served by IP cameras, mjpg-streamer or an ffmpeg relay.
type MJPEGSource struct {
	URL    string
	Client *http.Client

	mu     sync.Mutex
	body   io.ReadCloser
	reader *multipart.Reader
	seq    uint64
}

// NewMJPEGSource returns a source for url.
func NewMJPEGSource(url string) *MJPEGSource {
	return &MJPEGSource{URL: url}
}

func (s *MJPEGSource) Open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("invalid camera url: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to camera: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("camera returned %s", resp.Status)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("camera stream is not multipart MJPEG (content-type %q)", resp.Header.Get("Content-Type"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = resp.Body
	s.reader = multipart.NewReader(resp.Body, strings.TrimPrefix(params["boundary"], "--"))
	return nil
}

func (s *MJPEGSource) Next(ctx context.Context) (*types.CaptureFrame, error) {
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return nil, ErrClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := r.NextPart()
		if err != nil {
			return nil, fmt.Errorf("camera stream ended: %w", err)
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			continue // skip non-JPEG parts
		}
		s.seq++
		return &types.CaptureFrame{
			Data:      data,
			Timestamp: time.Now(),
			FrameNum:  s.seq,
			Width:     cfg.Width,
			Height:    cfg.Height,
		}, nil
	}
}

func (s *MJPEGSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body, s.reader = nil, nil
	return err
}

// StillSource repeats one JPEG at a fixed interval. It backs demo mode and tests.
type StillSource struct {
	Data     []byte
	Interval time.Duration

	mu     sync.Mutex
	open   bool
	width  int
	height int
	seq    uint64
}

// NewStillSource decodes data once to learn its size.
func NewStillSource(data []byte, interval time.Duration) (*StillSource, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("still image is not a JPEG: %w", err)
	}
	return &StillSource{Data: data, Interval: interval, width: cfg.Width, height: cfg.Height}, nil
}

func (s *StillSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *StillSource) Next(ctx context.Context) (*types.CaptureFrame, error) {
	if s.Interval > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Interval):
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrClosed
	}
	s.seq++
	return &types.CaptureFrame{
		Data:      s.Data,
		Timestamp: time.Now(),
		FrameNum:  s.seq,
		Width:     s.width,
		Height:    s.height,
	}, nil
}

func (s *StillSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}
