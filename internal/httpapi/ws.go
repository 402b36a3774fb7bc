package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dj-oyu/pose-coach/internal/reps"
	"github.com/dj-oyu/pose-coach/internal/session"
	"github.com/dj-oyu/pose-coach/internal/store"
)

// Keypoint sources of a pose session.
const (
	SourceCamera = session.SourceCamera
	SourceClient = session.SourceClient
)

const (
	writeTimeout   = 5 * time.Second
	profileTimeout = 2 * time.Second
)

var errCameraUnavailable = errors.New("camera source is not configured")

// Message types the server sends besides payloads.
const (
	msgSession = "session"
	msgAck     = "ack"
	msgError   = "error"
)

// serverMessage is a non-payload message on the pose socket.
type serverMessage struct {
	Type    string       `json:"type"`
	Control string       `json:"control,omitempty"`
	Error   string       `json:"error,omitempty"`
	Session session.Info `json:"session"`
}

type sessionParams struct {
	exercise reps.Exercise
	heightCM float64
	userID   string
	source   string
	feedback bool
}

func (s *Server) cameraAvailable() bool {
	return s.deps.Hub != nil && s.deps.Estimator != nil
}

// parseSessionParams reads ?exercise=&height_cm=&user_id=&source=&feedback=.
func (s *Server) parseSessionParams(q url.Values) (sessionParams, error) {
	p := sessionParams{userID: q.Get("user_id")}

	name := q.Get("exercise")
	if name == "" {
		name = "squat"
	}
	ex, err := s.deps.Catalog.Lookup(name)
	if err != nil {
		return p, err
	}
	p.exercise = ex

	if v := q.Get("height_cm"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil || h <= 0 {
			return p, fmt.Errorf("invalid height_cm %q", v)
		}
		p.heightCM = h
	}

	switch src := strings.ToLower(q.Get("source")); src {
	case "":
		p.source = SourceClient
		if s.cameraAvailable() {
			p.source = SourceCamera
		}
	case SourceCamera:
		if !s.cameraAvailable() {
			return p, errCameraUnavailable
		}
		p.source = src
	case SourceClient:
		p.source = src
	default:
		return p, fmt.Errorf("invalid source %q", src)
	}

	if v := q.Get("feedback"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("invalid feedback %q", v)
		}
		p.feedback = on
	}
	return p, nil
}

// newSession builds a session, filling the height and body profile from the
// user's latest stored profile when the query gave no height.
func (s *Server) newSession(ctx context.Context, p sessionParams) *session.Session {
	cfg := session.Config{
		UserID:        p.userID,
		Source:        p.source,
		Exercise:      p.exercise,
		Catalog:       s.deps.Catalog,
		HeightCM:      p.heightCM,
		Classifier:    s.cfg.Classifier,
		Adapter:       s.cfg.ClientAdapter,
		FeedbackOn:    p.feedback,
		FeedbackEvery: s.cfg.FeedbackEvery,
		HistorySize:   s.cfg.HistorySize,
		Clock:         s.deps.Clock,
		Metrics:       s.deps.Metrics,
		Publisher:     s.deps.Publisher,
	}
	if s.deps.Feedback != nil {
		cfg.Feedback = s.deps.Feedback
	}

	if s.deps.Store != nil {
		pctx, cancel := context.WithTimeout(ctx, profileTimeout)
		prof, err := s.deps.Store.Profiles.Latest(pctx, p.userID)
		cancel()
		switch {
		case err == nil:
			cfg.Profile = map[string]any{"body": prof.Body, "measures": prof.Measures}
			if cfg.HeightCM <= 0 {
				if h, ok := prof.HeightCM(); ok {
					cfg.HeightCM = h
				}
			}
		case !errors.Is(err, store.ErrNotFound):
			log.Warn("Profile lookup for %q failed: %v", p.userID, err)
		}
	}
	return session.New(cfg)
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	switch origin := s.cfg.CORSOrigin; origin {
	case "":
	case "*":
		opts.InsecureSkipVerify = true
	default:
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			opts.OriginPatterns = []string{u.Host}
		}
	}
	return opts
}

// handlePoseWS runs one session per connection. Payloads go out as JSON text
// messages; control messages come in.
func (s *Server) handlePoseWS(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseSessionParams(r.URL.Query())
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errCameraUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		log.Debug("WebSocket accept failed: %v", err)
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.newSession(ctx, params)
	sess.Start(ctx)
	s.deps.Registry.Add(sess)
	defer func() {
		s.deps.Registry.Remove(sess.ID())
		s.broadcaster.EndSession(sess.ID())
		sess.Close()
	}()

	emit := func(p session.Payload) error {
		data, err := s.publish(p)
		if err != nil {
			return err
		}
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		defer wcancel()
		return conn.Write(wctx, websocket.MessageText, data)
	}

	if err := s.reply(ctx, conn, serverMessage{Type: msgSession, Session: sess.Info()}); err != nil {
		conn.CloseNow()
		return
	}

	runErr := make(chan error, 1)
	if params.source == SourceCamera {
		runner := &session.Runner{
			Hub:       s.deps.Hub,
			Estimator: s.deps.Estimator,
			Adapter:   s.cfg.Adapter,
			FPS:       s.cfg.FPS,
			Clock:     s.deps.Clock,
			Metrics:   s.deps.Metrics,
		}
		go func() {
			runErr <- runner.Run(ctx, sess, emit)
			cancel()
		}()
	} else {
		runErr <- nil
	}

	s.readControls(ctx, conn, sess, emit)
	cancel()

	if err := <-runErr; err != nil {
		log.Warn("Session %s ended: %v", sess.ID(), err)
		conn.Close(websocket.StatusInternalError, truncateReason(err.Error()))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readControls applies inbound messages until the client goes away or ctx
// ends. Malformed messages are logged and skipped.
func (s *Server) readControls(ctx context.Context, conn *websocket.Conn, sess *session.Session, emit session.Emitter) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("Session %s read ended: %v", sess.ID(), err)
				}
			}
			return
		}

		c, err := session.ParseControl(data)
		if err != nil {
			log.Debug("Session %s: ignoring message: %v", sess.ID(), err)
			continue
		}
		p, err := sess.Handle(c)
		if err != nil {
			log.Debug("Session %s: %s rejected: %v", sess.ID(), c.Type, err)
			if err := s.reply(ctx, conn, serverMessage{Type: msgError, Control: c.Type, Error: err.Error(), Session: sess.Info()}); err != nil {
				return
			}
			continue
		}
		if p != nil {
			if err := emit(*p); err != nil {
				return
			}
			continue
		}
		if err := s.reply(ctx, conn, serverMessage{Type: msgAck, Control: c.Type, Session: sess.Info()}); err != nil {
			return
		}
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, msg serverMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}

// truncateReason fits a close reason into a control frame.
func truncateReason(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
