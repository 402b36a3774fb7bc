package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/overlay"
	"github.com/dj-oyu/pose-coach/internal/session"
)

const (
	sseKeepalive = 30 * time.Second
	mjpegIdle    = 5 * time.Second
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// streamEventsFromChannel streams pre-serialized payloads to an SSE client
// until the channel closes or the client goes away.
func streamEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTimer(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			// Send keepalive comment to prevent timeout
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
		keepalive.Reset(sseKeepalive)
	}
}

// frameRenderer turns a payload into an overlay JPEG; nil means skip.
type frameRenderer func(p session.Payload) []byte

// streamMJPEGFromChannel renders every payload as an overlay frame and
// streams the result as MJPEG. A blank frame goes out when nothing arrives
// for a while.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, render frameRenderer) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	blank, err := overlay.Blank(0, 0)
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	idle := time.NewTimer(0) // first frame immediately
	defer idle.Stop()

	for {
		var jpegData []byte
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if jpegData = render(event.Payload); jpegData == nil {
				continue
			}
		case <-idle.C:
			jpegData = blank
		}
		idle.Reset(mjpegIdle)

		// Write frame with error checking - if client disconnected, exit immediately
		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// statsLines is the ASCII text drawn on overlay frames.
func statsLines(p session.Payload) []string {
	ex := p.Exercise
	line := fmt.Sprintf("%s  reps: %d  stage: %s", ex.Name, ex.RepCount, ex.Stage)
	if ex.Angle != nil {
		line += fmt.Sprintf("  angle: %d", *ex.Angle)
	}
	if ex.Paused {
		line += "  [paused]"
	}
	cov := fmt.Sprintf("coverage: %s (%.2f)  frame #%d", p.Coverage.State, p.Coverage.Score, p.Seq)
	if p.CMPerPx != nil {
		cov += fmt.Sprintf("  %.3f cm/px", *p.CMPerPx)
	}
	return []string{line, cov}
}
