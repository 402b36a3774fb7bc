// Package config loads the server's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server        ServerConfig    `toml:"server"`
	Camera        CameraConfig    `toml:"camera"`
	Estimator     EstimatorConfig `toml:"estimator"`
	Feedback      FeedbackConfig  `toml:"feedback"`
	Store         StoreConfig     `toml:"store"`
	MQTT          MQTTConfig      `toml:"mqtt"`
	WebRTC        WebRTCConfig    `toml:"webrtc"`
	Recording     RecordingConfig `toml:"recording"`
	Log           LogConfig       `toml:"log"`
	ExercisesFile string          `toml:"exercises_file,omitempty"` // extra or overriding exercises (YAML)
}

type ServerConfig struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
	PprofAddr   string `toml:"pprof_addr,omitempty"` // empty disables pprof
	CORSOrigin  string `toml:"cors_origin"`
	MaxClients  int    `toml:"max_clients"`
}

type CameraConfig struct {
	URL    string `toml:"url"`             // MJPEG stream
	Still  string `toml:"still,omitempty"` // JPEG file used instead of URL
	Width  int    `toml:"width,omitempty"` // hint for synthetic frames
	Height int    `toml:"height,omitempty"`
	FPS    int    `toml:"fps"`
	Mirror bool   `toml:"mirror"`
}

type EstimatorConfig struct {
	Command    string        `toml:"command"`
	Args       []string      `toml:"args,omitempty"`
	Env        []string      `toml:"env,omitempty"`
	Vocabulary string        `toml:"vocabulary"` // mediapipe or coco17
	Normalized bool          `toml:"normalized"` // worker returns fractions of the image size
	Timeout    time.Duration `toml:"timeout"`
	Replay     string        `toml:"replay,omitempty"` // NDJSON recording used instead of Command
}

type FeedbackConfig struct {
	Provider    string        `toml:"provider"` // gemini, command or none
	Model       string        `toml:"model,omitempty"`
	APIKeyEnv   string        `toml:"api_key_env,omitempty"`
	Timeout     time.Duration `toml:"timeout"`
	Interval    time.Duration `toml:"interval"`
	HistorySize int           `toml:"history_size"`
	Command     string        `toml:"command,omitempty"`
	CommandArgs []string      `toml:"command_args,omitempty"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type MQTTConfig struct {
	Broker      string `toml:"broker,omitempty"` // empty disables publishing
	TopicPrefix string `toml:"topic_prefix"`
	ClientID    string `toml:"client_id,omitempty"`
	QoS         byte   `toml:"qos"`
}

type WebRTCConfig struct {
	STUNServers []string `toml:"stun_servers"`
}

type RecordingConfig struct {
	OutputDir string `toml:"output_dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
	Color bool   `toml:"color"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8000",
			MetricsAddr: ":9090",
			CORSOrigin:  "http://localhost:8080",
			MaxClients:  10,
		},
		Camera: CameraConfig{
			URL:    "http://localhost:8081/stream",
			Width:  640,
			Height: 480,
			FPS:    12,
			Mirror: true,
		},
		Estimator: EstimatorConfig{
			Command:    "python3",
			Args:       []string{"scripts/pose_worker.py"},
			Vocabulary: "mediapipe",
			Normalized: true,
			Timeout:    2 * time.Second,
		},
		Feedback: FeedbackConfig{
			Provider:    "gemini",
			Model:       "gemini-1.5-flash-latest",
			APIKeyEnv:   "GOOGLE_API_KEY",
			Timeout:     10 * time.Second,
			Interval:    3 * time.Second,
			HistorySize: 10,
		},
		Store:     StoreConfig{Path: "pose-coach.db"},
		MQTT:      MQTTConfig{TopicPrefix: "pose-coach", QoS: 0},
		WebRTC:    WebRTCConfig{STUNServers: []string{"stun:stun.l.google.com:19302"}},
		Recording: RecordingConfig{OutputDir: "./recordings"},
		Log:       LogConfig{Level: "info", Color: true},
	}
}

// DefaultConfigPath returns ~/.config/pose-coach/config.toml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "pose-coach", "config.toml")
}

// Load reads path over the defaults. A missing file yields Default().
// Relative file paths in the config resolve against the config's directory.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("parsing config: unknown keys: %s", strings.Join(keys, ", "))
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return cfg, fmt.Errorf("resolving config directory: %w", err)
	}
	for _, p := range []*string{&cfg.ExercisesFile, &cfg.Camera.Still, &cfg.Estimator.Replay, &cfg.Store.Path, &cfg.Recording.OutputDir} {
		*p = resolvePath(dir, *p)
	}
	return cfg, cfg.Validate()
}

func resolvePath(dir, p string) string {
	if p == "" || p == ":memory:" {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps must be positive, got %d", c.Camera.FPS))
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		errs = append(errs, fmt.Errorf("camera size must not be negative"))
	}
	if c.Estimator.Timeout < 0 {
		errs = append(errs, fmt.Errorf("estimator.timeout must not be negative"))
	}
	if c.Feedback.Timeout < 0 || c.Feedback.Interval < 0 {
		errs = append(errs, fmt.Errorf("feedback timeout and interval must not be negative"))
	}
	switch c.Feedback.Provider {
	case "", "none", "gemini":
	case "command":
		if c.Feedback.Command == "" {
			errs = append(errs, fmt.Errorf("feedback.provider command needs feedback.command"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown feedback.provider %q", c.Feedback.Provider))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Server.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("server.max_clients must not be negative"))
	}
	return errors.Join(errs...)
}

// ResolvedMaxClients returns max_clients, defaulting to 10.
func (c Config) ResolvedMaxClients() int {
	if c.Server.MaxClients > 0 {
		return c.Server.MaxClients
	}
	return 10
}

// ResolvedFeedbackInterval returns the feedback interval, defaulting to 3s.
func (c Config) ResolvedFeedbackInterval() time.Duration {
	if c.Feedback.Interval > 0 {
		return c.Feedback.Interval
	}
	return 3 * time.Second
}

// ResolvedSTUNServers drops blank entries.
func (c Config) ResolvedSTUNServers() []string {
	out := make([]string, 0, len(c.WebRTC.STUNServers))
	for _, s := range c.WebRTC.STUNServers {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ResolvedClientID returns the MQTT client id, defaulting to "pose-coach-<hostname>".
func (c Config) ResolvedClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "pose-coach-" + host
}
