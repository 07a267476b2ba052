// Package config loads client configuration from an optional YAML file,
// then applies environment overrides (including a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAPIURL    = "LIVESCRIBE_API_URL"
	EnvStreamURL = "LIVESCRIBE_STREAM_URL"
	EnvToken     = "LIVESCRIBE_TOKEN"
	EnvLogLevel  = "LIVESCRIBE_LOG_LEVEL"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Audio     AudioConfig     `yaml:"audio"`
	Stream    StreamConfig    `yaml:"stream"`
	Session   SessionConfig   `yaml:"session"`
	Limits    LimitsConfig    `yaml:"limits"`
	Share     ShareConfig     `yaml:"share"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServiceConfig locates the remote transcription and storage service.
type ServiceConfig struct {
	APIURL    string        `yaml:"api_url"`
	StreamURL string        `yaml:"stream_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	FrameSamples     int     `yaml:"frame_samples"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	Device           string  `yaml:"device"`
}

type StreamConfig struct {
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	LimitCloseCode   int           `yaml:"limit_close_code"`
}

type SessionConfig struct {
	Tick           time.Duration `yaml:"tick"`
	LatencyWindow  int           `yaml:"latency_window"`
	SecondsPerWord float64       `yaml:"seconds_per_word"`
	UploadFormat   string        `yaml:"upload_format"` // wav | flac
}

// LimitsConfig maps plan tiers to recording seconds; -1 is unlimited.
type LimitsConfig struct {
	Tiers      map[string]int `yaml:"tiers"`
	UpgradeURL string         `yaml:"upgrade_url"`
}

type ShareConfig struct {
	ExpiryHours int    `yaml:"expiry_hours"`
	URLTemplate string `yaml:"url_template"` // must contain {token}
}

type KeepAliveConfig struct {
	WakeLock     bool `yaml:"wake_lock"`
	SilentLoop   bool `yaml:"silent_loop"`
	Notification bool `yaml:"notification"`
	MediaSession bool `yaml:"media_session"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a complete configuration; a config file is optional.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			APIURL:    "http://localhost:8080",
			StreamURL: "ws://localhost:8080/ws/transcribe",
			Timeout:   30 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			FrameSamples:     4096,
			SilenceThreshold: 0.001,
		},
		Stream: StreamConfig{
			ReconnectBackoff: 2 * time.Second,
			DialTimeout:      10 * time.Second,
			LimitCloseCode:   4001,
		},
		Session: SessionConfig{
			Tick:           time.Second,
			LatencyWindow:  20,
			SecondsPerWord: 0.4,
			UploadFormat:   "wav",
		},
		Limits: LimitsConfig{
			Tiers: map[string]int{
				"free":      600,
				"pro":       36000,
				"unlimited": -1,
			},
			UpgradeURL: "http://localhost:8080/pricing",
		},
		Share: ShareConfig{
			ExpiryHours: 168,
			URLTemplate: "http://localhost:8080/share/{token}",
		},
		KeepAlive: KeepAliveConfig{
			WakeLock:     true,
			SilentLoop:   true,
			Notification: true,
			MediaSession: true,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Address: "127.0.0.1:9464"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv populates the process environment from .env files without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.Service.APIURL = v
	}
	if v := os.Getenv(EnvStreamURL); v != "" {
		c.Service.StreamURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Service.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits config: %w", err)
	}
	if err := c.Share.Validate(); err != nil {
		return fmt.Errorf("share config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

func (s *ServiceConfig) Validate() error {
	if s.APIURL == "" {
		return fmt.Errorf("api_url cannot be empty")
	}
	if !strings.HasPrefix(s.StreamURL, "ws://") && !strings.HasPrefix(s.StreamURL, "wss://") {
		return fmt.Errorf("stream_url must be a ws:// or wss:// URL, got %q", s.StreamURL)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}
	if a.FrameSamples < 256 {
		return fmt.Errorf("frame_samples must be at least 256, got %d", a.FrameSamples)
	}
	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}
	return nil
}

func (s *StreamConfig) Validate() error {
	if s.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect_backoff must be positive, got %s", s.ReconnectBackoff)
	}
	if s.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive, got %s", s.DialTimeout)
	}
	if s.LimitCloseCode < 4000 || s.LimitCloseCode > 4999 {
		return fmt.Errorf("limit_close_code must be an application code (4000-4999), got %d", s.LimitCloseCode)
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", s.Tick)
	}
	if s.LatencyWindow < 1 {
		return fmt.Errorf("latency_window must be at least 1, got %d", s.LatencyWindow)
	}
	if s.SecondsPerWord <= 0 {
		return fmt.Errorf("seconds_per_word must be positive, got %f", s.SecondsPerWord)
	}
	switch s.UploadFormat {
	case "wav", "flac":
	default:
		return fmt.Errorf("upload_format must be wav or flac, got %q", s.UploadFormat)
	}
	return nil
}

func (l *LimitsConfig) Validate() error {
	if len(l.Tiers) == 0 {
		return fmt.Errorf("tiers cannot be empty")
	}
	if _, ok := l.Tiers["free"]; !ok {
		return fmt.Errorf("tiers must define the free tier")
	}
	for name, secs := range l.Tiers {
		if secs < -1 || secs == 0 {
			return fmt.Errorf("tier %q: limit must be positive or -1, got %d", name, secs)
		}
	}
	return nil
}

func (s *ShareConfig) Validate() error {
	if s.ExpiryHours < 1 {
		return fmt.Errorf("expiry_hours must be at least 1, got %d", s.ExpiryHours)
	}
	if !strings.Contains(s.URLTemplate, "{token}") {
		return fmt.Errorf("url_template must contain {token}, got %q", s.URLTemplate)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("level must be one of debug, info, warn, error; got %q", l.Level)
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}
	return nil
}
