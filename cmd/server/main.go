package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/pose-coach/internal/capture"
	"github.com/dj-oyu/pose-coach/internal/config"
	"github.com/dj-oyu/pose-coach/internal/estimator"
	"github.com/dj-oyu/pose-coach/internal/events"
	"github.com/dj-oyu/pose-coach/internal/feedback"
	"github.com/dj-oyu/pose-coach/internal/httpapi"
	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/overlay"
	"github.com/dj-oyu/pose-coach/internal/pose"
	"github.com/dj-oyu/pose-coach/internal/recorder"
	"github.com/dj-oyu/pose-coach/internal/reps"
	"github.com/dj-oyu/pose-coach/internal/session"
	"github.com/dj-oyu/pose-coach/internal/store"
	"github.com/dj-oyu/pose-coach/internal/webrtc"
)

var (
	// Command-line flags; set flags override the config file
	configPath  = flag.String("config", config.DefaultConfigPath(), "Config file (TOML)")
	httpAddr    = flag.String("http", "", "HTTP server address")
	metricsAddr = flag.String("metrics", "", "Metrics server address")
	pprofAddr   = flag.String("pprof", "", "pprof server address (empty disables)")
	recordPath  = flag.String("record-path", "", "Recording output path")
	dbPath      = flag.String("db", "", "SQLite database path")
	maxClients  = flag.Int("max-clients", 0, "Maximum WebRTC clients")
	stunServers = flag.String("stun", "", "STUN server URLs (comma-separated)")
	cameraURL   = flag.String("camera", "", "MJPEG camera URL")
	stillPath   = flag.String("still", "", "Serve this JPEG as the camera (demo mode)")
	replayPath  = flag.String("replay", "", "Replay keypoints from an NDJSON recording instead of running the estimator")
	provider    = flag.String("feedback", "", "Feedback provider (gemini, command, none)")
	mqttBroker  = flag.String("mqtt", "", "MQTT broker for session events")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// Server is the pose coaching server
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cfg    config.Config

	metrics    *metrics.Metrics
	store      *store.Store
	hub        *capture.Hub
	worker     *estimator.Worker
	estimator  estimator.Estimator
	publisher  session.Publisher
	mqtt       *events.MQTTPublisher
	recorder   *recorder.Recorder
	webrtc     *webrtc.Server
	api        *httpapi.Server
	registry   *session.Registry
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Pose coach server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.Server.Addr = *httpAddr
		case "metrics":
			cfg.Server.MetricsAddr = *metricsAddr
		case "pprof":
			cfg.Server.PprofAddr = *pprofAddr
		case "record-path":
			cfg.Recording.OutputDir = *recordPath
		case "db":
			cfg.Store.Path = *dbPath
		case "max-clients":
			cfg.Server.MaxClients = *maxClients
		case "stun":
			cfg.WebRTC.STUNServers = strings.Split(*stunServers, ",")
		case "camera":
			cfg.Camera.URL = *cameraURL
		case "still":
			cfg.Camera.Still = *stillPath
		case "replay":
			cfg.Estimator.Replay = *replayPath
		case "feedback":
			cfg.Feedback.Provider = *provider
		case "mqtt":
			cfg.MQTT.Broker = *mqttBroker
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		}
	})
}

// NewServer wires every component described by cfg. Optional pieces that
// fail to come up are logged and left out.
func NewServer(cfg config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		metrics:  metrics.New(),
		registry: session.NewRegistry(),
	}

	catalog, err := reps.LoadCatalog(cfg.ExercisesFile)
	if err != nil {
		cancel()
		return nil, err
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
	}

	vocab, err := pose.ParseVocabulary(cfg.Estimator.Vocabulary)
	if err != nil {
		s.closeStore()
		cancel()
		return nil, err
	}

	if err := s.setupCamera(); err != nil {
		s.closeStore()
		cancel()
		return nil, err
	}

	s.setupEvents()
	s.recorder = recorder.NewRecorder(cfg.Recording.OutputDir, s.metrics)
	s.webrtc = webrtc.NewServer(cfg.ResolvedSTUNServers(), cfg.ResolvedMaxClients(), s.metrics)

	s.api = httpapi.NewServer(httpapi.Config{
		CORSOrigin:    cfg.Server.CORSOrigin,
		FPS:           cfg.Camera.FPS,
		Adapter:       pose.Adapter{Vocabulary: vocab, Normalized: cfg.Estimator.Normalized},
		ClientAdapter: pose.Adapter{Vocabulary: vocab},
		FeedbackEvery: cfg.ResolvedFeedbackInterval(),
		HistorySize:   cfg.Feedback.HistorySize,
		Overlay:       overlay.Renderer{Width: cfg.Camera.Width, Height: cfg.Camera.Height},
	}, httpapi.Deps{
		Catalog:   catalog,
		Store:     s.store,
		Feedback:  newOrchestrator(cfg.Feedback, s.metrics),
		Hub:       s.hub,
		Estimator: s.estimator,
		Registry:  s.registry,
		Recorder:  s.recorder,
		WebRTC:    s.webrtc,
		Publisher: s.publisher,
		Metrics:   s.metrics,
	})

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.api.Handler(),
		// request contexts end with the server, which also ends hijacked sockets
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// setupCamera builds the capture hub and the estimator behind it. Without
// either, only client-sent keypoints are available.
func (s *Server) setupCamera() error {
	cam := s.cfg.Camera
	var src capture.Source
	switch {
	case cam.Still != "":
		data, err := os.ReadFile(cam.Still)
		if err != nil {
			return fmt.Errorf("failed to read still image: %w", err)
		}
		still, err := capture.NewStillSource(data, time.Second/time.Duration(cam.FPS))
		if err != nil {
			return err
		}
		src = still
	case cam.URL != "":
		src = capture.NewMJPEGSource(cam.URL)
	default:
		logger.Info("Main", "No camera configured")
		return nil
	}
	s.hub = capture.NewHub(src, capture.HubOptions{Mirror: cam.Mirror, Metrics: s.metrics})

	est := s.cfg.Estimator
	switch {
	case est.Replay != "":
		replay, err := estimator.OpenReplay(est.Replay)
		if err != nil {
			return err
		}
		logger.Info("Main", "Replaying %d keypoint frames from %s", replay.Len(), est.Replay)
		s.estimator = replay
	case est.Command != "":
		w, err := estimator.NewWorker(estimator.WorkerConfig{
			Command: est.Command,
			Args:    est.Args,
			Env:     est.Env,
			Timeout: est.Timeout,
			Metrics: s.metrics,
		})
		if err != nil {
			return err
		}
		if err := w.Start(s.ctx); err != nil {
			logger.Warn("Main", "Estimator unavailable, camera sessions are disabled: %v", err)
			return nil
		}
		s.worker = w
		s.estimator = w
	default:
		logger.Warn("Main", "Camera configured without an estimator; camera sessions are disabled")
	}
	return nil
}

func (s *Server) setupEvents() {
	s.publisher = events.Nop{}
	mq := s.cfg.MQTT
	if mq.Broker == "" {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	p, err := events.Connect(ctx, events.Options{
		Broker:      mq.Broker,
		ClientID:    s.cfg.ResolvedClientID(),
		TopicPrefix: mq.TopicPrefix,
		QoS:         mq.QoS,
		Metrics:     s.metrics,
	})
	if err != nil {
		logger.Warn("Main", "MQTT disabled: %v", err)
		return
	}
	s.mqtt = p
	s.publisher = p
}

// newOrchestrator returns nil when feedback is switched off.
func newOrchestrator(cfg config.FeedbackConfig, m *metrics.Metrics) *feedback.Orchestrator {
	var gen feedback.Generator
	switch cfg.Provider {
	case "gemini":
		g := feedback.NewGeminiFromEnv(cfg.APIKeyEnv, cfg.Model)
		if g.APIKey == "" {
			logger.Warn("Main", "Gemini API key not set; coach feedback falls back to defaults")
		}
		gen = g
	case "command":
		gen = feedback.CommandGenerator{Path: cfg.Command, Args: cfg.CommandArgs}
	default:
		logger.Info("Main", "Coach feedback disabled")
		return nil
	}
	logger.Info("Main", "Coach feedback provider: %s", cfg.Provider)
	return feedback.NewOrchestrator(gen, feedback.Options{Timeout: cfg.Timeout, Metrics: m})
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting pose coach server...")
	logger.Info("Main", "  HTTP server: %s", s.cfg.Server.Addr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.Server.MetricsAddr)
	logger.Info("Main", "  Recording path: %s", s.cfg.Recording.OutputDir)
	if s.store != nil {
		logger.Info("Main", "  Database: %s", s.cfg.Store.Path)
	}

	if addr := s.cfg.Server.PprofAddr; addr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if addr := s.cfg.Server.MetricsAddr; addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", addr)
			if err := s.metrics.StartServer(addr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	go func() {
		logger.Info("Main", "Starting HTTP server on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.wg.Add(1)
	go s.reportStatus()

	logger.Info("Main", "Server started successfully")
	return nil
}

// reportStatus logs a one-line summary while sessions are running.
func (s *Server) reportStatus() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n := s.registry.Len()
			if n == 0 {
				continue
			}
			leases := 0
			if s.hub != nil {
				leases = s.hub.Leases()
			}
			logger.Info("Main", "Sessions: %d, camera leases: %d, frames processed: %d, webrtc clients: %d",
				n, leases, s.metrics.FramesProcessed.Load(), s.webrtc.GetClientCount())
		}
	}
}

func (s *Server) closeStore() {
	if s.store != nil {
		s.store.Close()
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	// Cancel context to stop sessions and goroutines
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.wg.Wait()

	// Stop recording if active
	if s.recorder.IsRecording() {
		if _, err := s.recorder.Stop(); err != nil {
			logger.Warn("Main", "Failed to stop recording: %v", err)
		}
	}

	// Close components
	s.recorder.Close()
	s.webrtc.Close()
	if s.worker != nil {
		if err := s.worker.Stop(); err != nil {
			logger.Warn("Main", "Estimator stop: %v", err)
		}
	}
	if s.mqtt != nil {
		s.mqtt.Close()
	}
	s.closeStore()
	return err
}
