// Package config loads and validates engine configuration. Configuration is
// JSON with sane defaults; a file layer overrides defaults and environment
// variables override the file, so containers can run with no config at all.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/abossard/vjuniverse/audio"
	"github.com/abossard/vjuniverse/output/natsbridge"
	"github.com/abossard/vjuniverse/output/statusws"
)

// EnvPrefix is prepended to every environment override variable.
const EnvPrefix = "VJUNIVERSE"

// Config is the complete engine configuration.
type Config struct {
	Version string         `json:"version,omitempty"`
	OSC     OSCConfig      `json:"osc"`
	Shaders ShaderConfig   `json:"shaders"`
	Audio   AudioConfig    `json:"audio"`
	NATS    NATSConfig     `json:"nats"`
	Metrics MetricsConfig  `json:"metrics"`
	Status  StatusWSConfig `json:"status"`
}

// OSCConfig defines the control-protocol listener.
type OSCConfig struct {
	Port int    `json:"port"`
	Bind string `json:"bind,omitempty"`
}

// ShaderConfig defines the shader library and its derived artifacts.
type ShaderConfig struct {
	Dir            string        `json:"dir"`
	ReloadInterval time.Duration `json:"reload_interval,omitempty"`
	RulesFile      string        `json:"rules_file,omitempty"`
	PreviewDir     string        `json:"preview_dir,omitempty"`
	CaptureDelay   time.Duration `json:"capture_delay,omitempty"`
	ErrorLog       string        `json:"error_log,omitempty"`
	InitialShader  string        `json:"initial_shader,omitempty"`
}

// AudioConfig seeds the feature extractor and speed controller.
type AudioConfig struct {
	OnsetThreshold float64 `json:"onset_threshold"`
	SongStyle      float64 `json:"song_style"`
	TickRate       float64 `json:"tick_rate"` // headless tick frequency, Hz
}

// NATSConfig defines the optional event bus connection.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URL           string        `json:"url,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	FrameRate     float64       `json:"frame_rate,omitempty"` // snapshot publishes per second
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

// StatusWSConfig defines the status WebSocket server.
type StatusWSConfig struct {
	Enabled  bool          `json:"enabled"`
	Port     int           `json:"port"`
	Interval time.Duration `json:"interval,omitempty"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		OSC: OSCConfig{
			Port: 9000,
		},
		Shaders: ShaderConfig{
			Dir:            "shaders",
			ReloadInterval: 5 * time.Second,
			PreviewDir:     "previews",
			ErrorLog:       "shader_errors.jsonl",
		},
		Audio: AudioConfig{
			OnsetThreshold: audio.DefaultOnsetThreshold,
			SongStyle:      0.5,
			TickRate:       60,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			FrameRate:     natsbridge.DefaultFrameRate,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Status: StatusWSConfig{
			Enabled:  true,
			Port:     8080,
			Interval: statusws.DefaultInterval,
		},
	}
}

// Load reads configuration: defaults, then the file at path (optional when
// path is empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UnmarshalJSON accepts durations as either nanosecond integers or Go
// duration strings ("250ms", "5s").
func (s *ShaderConfig) UnmarshalJSON(data []byte) error {
	type alias ShaderConfig
	aux := struct {
		ReloadInterval json.RawMessage `json:"reload_interval,omitempty"`
		CaptureDelay   json.RawMessage `json:"capture_delay,omitempty"`
		*alias
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if s.ReloadInterval, err = parseDuration(aux.ReloadInterval, s.ReloadInterval); err != nil {
		return fmt.Errorf("reload_interval: %w", err)
	}
	if s.CaptureDelay, err = parseDuration(aux.CaptureDelay, s.CaptureDelay); err != nil {
		return fmt.Errorf("capture_delay: %w", err)
	}
	return nil
}

// UnmarshalJSON accepts reconnect_wait as an integer or a duration string.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type alias NATSConfig
	aux := struct {
		ReconnectWait json.RawMessage `json:"reconnect_wait,omitempty"`
		*alias
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if n.ReconnectWait, err = parseDuration(aux.ReconnectWait, n.ReconnectWait); err != nil {
		return fmt.Errorf("reconnect_wait: %w", err)
	}
	return nil
}

// UnmarshalJSON accepts interval as an integer or a duration string.
func (s *StatusWSConfig) UnmarshalJSON(data []byte) error {
	type alias StatusWSConfig
	aux := struct {
		Interval json.RawMessage `json:"interval,omitempty"`
		*alias
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if s.Interval, err = parseDuration(aux.Interval, s.Interval); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	return nil
}

func parseDuration(raw json.RawMessage, fallback time.Duration) (time.Duration, error) {
	if len(raw) == 0 {
		return fallback, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.ParseDuration(s)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return time.Duration(n), nil
	}
	return 0, fmt.Errorf("expected duration string or integer, got %s", string(raw))
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_OSC_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.OSC.Port = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_SHADER_DIR"); val != "" {
		cfg.Shaders.Dir = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
		cfg.NATS.Enabled = true
	}
	if val := os.Getenv(EnvPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_STATUS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Status.Port = port
		}
	}
}

// Validate checks the configuration for values the engine cannot start with.
func (c *Config) Validate() error {
	if c.OSC.Port < 1 || c.OSC.Port > 65535 {
		return fmt.Errorf("osc.port %d out of range", c.OSC.Port)
	}
	if c.Shaders.Dir == "" {
		return errors.New("shaders.dir is required")
	}
	if c.Audio.OnsetThreshold < 0 || c.Audio.OnsetThreshold > 1 {
		return fmt.Errorf("audio.onset_threshold %g out of range [0,1]", c.Audio.OnsetThreshold)
	}
	if c.Audio.SongStyle < 0 || c.Audio.SongStyle > 1 {
		return fmt.Errorf("audio.song_style %g out of range [0,1]", c.Audio.SongStyle)
	}
	if c.Audio.TickRate <= 0 || c.Audio.TickRate > 1000 {
		return fmt.Errorf("audio.tick_rate %g out of range (0,1000]", c.Audio.TickRate)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Status.Enabled && (c.Status.Port < 1 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port %d out of range", c.Status.Port)
	}
	if c.Status.Enabled && c.Metrics.Enabled && c.Status.Port == c.Metrics.Port {
		return fmt.Errorf("status and metrics cannot share port %d", c.Status.Port)
	}
	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
