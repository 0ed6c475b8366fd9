package config

import (
	"testing"
	"time"
)

// TestDefault verifies the values used when nothing is configured.
func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != ":8080" {
		t.Errorf("Expected default port :8080, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:8080" {
		t.Errorf("Unexpected default origins: %v", cfg.AllowedOrigins)
	}
	if cfg.Probe.Interval != 5*time.Second || cfg.Probe.Timeout != time.Second {
		t.Errorf("Unexpected probe defaults: %+v", cfg.Probe)
	}
	if cfg.PresenceOnConnect != PresenceDefer {
		t.Errorf("Expected presence policy %q, got %q", PresenceDefer, cfg.PresenceOnConnect)
	}
	if cfg.EchoToSender {
		t.Error("Echo to sender should be off by default")
	}
	if cfg.StorePath() != "data/badger" {
		t.Errorf("Expected badger path, got %s", cfg.StorePath())
	}
}

// TestLoadFromEnv verifies environment variables override defaults.
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "HTTP://Example.com, https://chat.example.com:8443 ,not-an-origin")
	t.Setenv("RATE_LIMIT_BURST", "20")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("PROBE_INTERVAL", "10s")
	t.Setenv("PROBE_TIMEOUT", "2s")
	t.Setenv("PRESENCE_ON_CONNECT", "EAGER")
	t.Setenv("ECHO_TO_SENDER", "true")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/chat.db")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != ":9090" {
		t.Errorf("Expected port :9090, got %s", cfg.Port)
	}
	want := []string{"http://example.com", "https://chat.example.com:8443"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("Expected origins %v, got %v", want, cfg.AllowedOrigins)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("Origin %d: expected %s, got %s", i, want[i], cfg.AllowedOrigins[i])
		}
	}
	if cfg.RateLimit.Burst != 20 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("Unexpected rate limit: %+v", cfg.RateLimit)
	}
	if cfg.Probe.Interval != 10*time.Second || cfg.Probe.Timeout != 2*time.Second {
		t.Errorf("Unexpected probe config: %+v", cfg.Probe)
	}
	if cfg.PresenceOnConnect != PresenceEager {
		t.Errorf("Expected eager presence, got %s", cfg.PresenceOnConnect)
	}
	if !cfg.EchoToSender {
		t.Error("Expected echo to sender")
	}
	if cfg.StorePath() != "/tmp/chat.db" {
		t.Errorf("Expected sqlite path, got %s", cfg.StorePath())
	}
}

// TestLoadRequiresSecret verifies a missing JWT secret is an error.
func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(nil); err == nil {
		t.Fatal("Expected error without JWT_SECRET")
	}
}

// TestLoadRejectsMalformedValues verifies envconfig parse errors surface.
func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PROBE_INTERVAL", "five seconds")

	if _, err := Load(nil); err == nil {
		t.Fatal("Expected error for malformed duration")
	}
}

// TestSanitize verifies unusable values fall back to defaults.
func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		in    Config
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "Non-positive limits",
			in:   Config{MaxMessageSize: -1, SendBufferSize: 0, RateLimit: RateLimitConfig{Burst: -3}},
			check: func(t *testing.T, cfg Config) {
				if cfg.MaxMessageSize != 1<<20 || cfg.SendBufferSize != 256 || cfg.RateLimit.Burst != 5 {
					t.Errorf("Limits not defaulted: %+v", cfg)
				}
			},
		},
		{
			name: "Timeout not shorter than interval",
			in:   Config{Probe: ProbeConfig{Interval: 2 * time.Second, Timeout: 3 * time.Second}},
			check: func(t *testing.T, cfg Config) {
				if cfg.Probe.Timeout != time.Second {
					t.Errorf("Expected timeout clamped to 1s, got %s", cfg.Probe.Timeout)
				}
			},
		},
		{
			name: "Unknown presence policy",
			in:   Config{PresenceOnConnect: "sometimes"},
			check: func(t *testing.T, cfg Config) {
				if cfg.PresenceOnConnect != PresenceDefer {
					t.Errorf("Expected defer, got %s", cfg.PresenceOnConnect)
				}
			},
		},
		{
			name: "Wildcard origin kept",
			in:   Config{AllowedOrigins: []string{"*", " "}},
			check: func(t *testing.T, cfg Config) {
				if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
					t.Errorf("Expected wildcard only, got %v", cfg.AllowedOrigins)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Sanitize(tt.in, nil))
		})
	}
}
