package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/pkg/types"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func mjpegServer(t *testing.T, frame []byte, count int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		require.NoError(t, mw.SetBoundary("frame"))
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for range count {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			_, _ = part.Write(frame)
		}
		_ = mw.Close()
	}))
}

func TestMJPEGSourceReadsParts(t *testing.T) {
	frame := testJPEG(t, 32, 24)
	srv := mjpegServer(t, frame, 3)
	defer srv.Close()

	src := NewMJPEGSource(srv.URL)
	ctx := context.Background()
	require.NoError(t, src.Open(ctx))
	defer src.Close()

	for i := 1; i <= 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.FrameNum)
		assert.Equal(t, 32, f.Width)
		assert.Equal(t, 24, f.Height)
		assert.Equal(t, frame, f.Data)
	}
	_, err := src.Next(ctx)
	assert.Error(t, err, "stream end is reported")
}

func TestMJPEGSourceRejectsNonMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	err := NewMJPEGSource(srv.URL).Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not multipart")
}

func TestMJPEGSourceNextBeforeOpen(t *testing.T) {
	_, err := NewMJPEGSource("http://127.0.0.1:1").Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStillSource(t *testing.T) {
	_, err := NewStillSource([]byte("nope"), 0)
	require.Error(t, err)

	src, err := NewStillSource(testJPEG(t, 16, 8), 0)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, src.Open(context.Background()))
	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16, f.Width)
	assert.Equal(t, 8, f.Height)
	assert.Equal(t, uint64(1), f.FrameNum)
}

// countingSource wraps StillSource and records open/close calls.
type countingSource struct {
	*StillSource
	opens, closes atomic.Int32
}

func (c *countingSource) Open(ctx context.Context) error {
	c.opens.Add(1)
	return c.StillSource.Open(ctx)
}

func (c *countingSource) Close() error {
	c.closes.Add(1)
	return c.StillSource.Close()
}

func waitFrame(t *testing.T, l *Lease) *types.CaptureFrame {
	t.Helper()
	var f *types.CaptureFrame
	require.Eventually(t, func() bool {
		var ok bool
		f, ok = l.Latest()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return f
}

func TestHubLeaseLifecycle(t *testing.T) {
	still, err := NewStillSource(testJPEG(t, 16, 16), 2*time.Millisecond)
	require.NoError(t, err)
	src := &countingSource{StillSource: still}
	m := metrics.New()
	hub := NewHub(src, HubOptions{Mirror: true, Metrics: m})

	a, err := hub.Acquire(context.Background())
	require.NoError(t, err)
	b, err := hub.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.opens.Load(), "second lease shares the reader")
	assert.Equal(t, 2, hub.Leases())

	f := waitFrame(t, b)
	assert.True(t, f.Mirrored)

	a.Release()
	a.Release()
	assert.Equal(t, 1, hub.Leases(), "double release counts once")
	_, ok := b.Latest()
	assert.True(t, ok, "reader keeps running for the remaining lease")

	b.Release()
	assert.Equal(t, 0, hub.Leases())
	assert.GreaterOrEqual(t, src.closes.Load(), int32(1))
	assert.Positive(t, m.FramesCaptured.Load())

	c, err := hub.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()
	assert.Equal(t, int32(2), src.opens.Load(), "source reopens after idle")
	waitFrame(t, c)
}

type failingSource struct{}

func (failingSource) Open(context.Context) error { return assert.AnError }
func (failingSource) Next(context.Context) (*types.CaptureFrame, error) {
	return nil, ErrClosed
}
func (failingSource) Close() error { return nil }

func TestHubAcquireOpenError(t *testing.T) {
	hub := NewHub(failingSource{}, HubOptions{})
	_, err := hub.Acquire(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, hub.Leases())
}

// slowSource blocks Open until gate is closed.
type slowSource struct {
	*countingSource
	gate    chan struct{}
	entered chan struct{}
}

func (s *slowSource) Open(ctx context.Context) error {
	s.entered <- struct{}{}
	select {
	case <-s.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.countingSource.Open(ctx)
}

func TestHubSlowOpenDoesNotBlock(t *testing.T) {
	still, err := NewStillSource(testJPEG(t, 16, 16), 2*time.Millisecond)
	require.NoError(t, err)
	src := &slowSource{
		countingSource: &countingSource{StillSource: still},
		gate:           make(chan struct{}),
		entered:        make(chan struct{}, 2),
	}
	hub := NewHub(src, HubOptions{})

	type result struct {
		lease *Lease
		err   error
	}
	first := make(chan result, 1)
	go func() {
		l, err := hub.Acquire(context.Background())
		first <- result{l, err}
	}()
	<-src.entered

	assert.Equal(t, 0, hub.Leases(), "lease count is readable while opening")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = hub.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	second := make(chan result, 1)
	go func() {
		l, err := hub.Acquire(context.Background())
		second <- result{l, err}
	}()

	close(src.gate)
	a := <-first
	require.NoError(t, a.err)
	b := <-second
	require.NoError(t, b.err)
	defer a.lease.Release()
	defer b.lease.Release()

	assert.Equal(t, int32(1), src.opens.Load(), "waiting callers share the open")
	assert.Equal(t, 2, hub.Leases())
	assert.Empty(t, src.entered)
}

func TestHubReadsMJPEG(t *testing.T) {
	frame := testJPEG(t, 40, 30)
	srv := mjpegServer(t, frame, 50)
	defer srv.Close()

	hub := NewHub(NewMJPEGSource(srv.URL), HubOptions{})
	l, err := hub.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release()

	f := waitFrame(t, l)
	assert.Equal(t, 40, f.Width)
	assert.False(t, f.Mirrored)
}
