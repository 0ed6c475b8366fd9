// Package config loads relaychat settings from the environment, applying
// defaults and sanitizing values that would leave the server unusable.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Presence policies for freshly accepted connections.
const (
	PresenceDefer = "defer"
	PresenceEager = "eager"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// ProbeConfig controls liveness probing.
type ProbeConfig struct {
	Interval time.Duration `envconfig:"PROBE_INTERVAL" default:"5s"`
	Timeout  time.Duration `envconfig:"PROBE_TIMEOUT" default:"1s"`
	Jitter   time.Duration `envconfig:"PROBE_JITTER" default:"500ms"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string   `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	// MaxMessageSize bounds one inbound frame. Attachments travel base64
	// encoded inside the frame, hence the generous default.
	MaxMessageSize int64 `envconfig:"MAX_MESSAGE_SIZE" default:"1048576"`
	SendBufferSize int   `envconfig:"SEND_BUFFER_SIZE" default:"256"`
	RateLimit      RateLimitConfig
	Probe          ProbeConfig

	PresenceOnConnect string `envconfig:"PRESENCE_ON_CONNECT" default:"defer"`
	EchoToSender      bool   `envconfig:"ECHO_TO_SENDER" default:"false"`

	JWTSecret     string `envconfig:"JWT_SECRET"`
	SessionCookie string `envconfig:"SESSION_COOKIE" default:"token"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"badger"`
	BadgerPath  string `envconfig:"BADGER_PATH" default:"data/badger"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/relaychat.db"`
	UploadDir   string `envconfig:"UPLOAD_DIR" default:"uploads"`

	LogLevel        string        `envconfig:"LOG_LEVEL" default:"INFO"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Sanitize(Config{}, nil)
}

// Load reads an optional .env file, then the process environment.
// JWT_SECRET is required.
func Load(log *slog.Logger) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg = Sanitize(cfg, log)
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET must be set")
	}
	return cfg, nil
}

// Sanitize replaces unusable values with defaults and normalizes origins.
// log may be nil.
func Sanitize(cfg Config, log *slog.Logger) Config {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.Probe.Interval <= 0 {
		cfg.Probe.Interval = 5 * time.Second
	}
	if cfg.Probe.Timeout <= 0 {
		cfg.Probe.Timeout = time.Second
	}
	// A timeout at or beyond the interval would let ticks pile up behind a
	// pending probe.
	if cfg.Probe.Timeout >= cfg.Probe.Interval {
		log.Warn("Probe timeout not shorter than interval; clamping", "interval", cfg.Probe.Interval, "timeout", cfg.Probe.Timeout)
		cfg.Probe.Timeout = cfg.Probe.Interval / 2
	}
	if cfg.Probe.Jitter < 0 {
		cfg.Probe.Jitter = 0
	}

	switch strings.ToLower(strings.TrimSpace(cfg.PresenceOnConnect)) {
	case PresenceEager:
		cfg.PresenceOnConnect = PresenceEager
	case PresenceDefer, "":
		cfg.PresenceOnConnect = PresenceDefer
	default:
		log.Warn("Unknown presence policy; using defer", "value", cfg.PresenceOnConnect)
		cfg.PresenceOnConnect = PresenceDefer
	}

	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "token"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "badger"
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "data/badger"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/relaychat.db"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{"http://localhost:8080"}
	}
	cfg.AllowedOrigins = NormalizeOrigins(cfg.AllowedOrigins, log)
	return cfg
}

// StorePath returns the location used by the configured store driver.
func (c Config) StorePath() string {
	if c.StoreDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.BadgerPath
}

// NormalizeOrigins lowercases scheme and host and drops invalid entries.
// "*" is kept as is and means any origin.
func NormalizeOrigins(origins []string, log *slog.Logger) []string {
	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			normalized = append(normalized, trimmed)
			continue
		}

		o, ok := NormalizeOrigin(trimmed)
		if !ok {
			if log != nil {
				log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			}
			continue
		}
		normalized = append(normalized, o)
	}
	return normalized
}

// NormalizeOrigin returns "scheme://host" in lower case.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
