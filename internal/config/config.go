// Package config loads the recoveryctl service configuration from an
// optional YAML file, .env files and RECOVERY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RECOVERY_"

// minCookieSecretLen matches the HS256 key floor of the flow cookie signer.
const minCookieSecretLen = 32

// Config is the service configuration.
type Config struct {
	HTTPAddr               string   `yaml:"http_addr"`
	BackendURL             string   `yaml:"backend_url"`
	LangID                 string   `yaml:"lang_id"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	UpstreamTimeoutSeconds int      `yaml:"upstream_timeout_seconds"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`

	Redis   RedisConfig   `yaml:"redis"`
	Cookie  CookieConfig  `yaml:"cookie"`
	Limits  LimitsConfig  `yaml:"limits"`
	Log     LogConfig     `yaml:"log"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RedisConfig locates the session and limiter store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CookieConfig controls the signed flow cookie and its session.
type CookieConfig struct {
	// Secret is the HS256 key. Empty disables step continuity.
	Secret            string `yaml:"secret"`
	Domain            string `yaml:"domain"`
	Secure            bool   `yaml:"secure"`
	SessionTTLSeconds int    `yaml:"session_ttl_seconds"`
}

// LimitsConfig configures the OTP throttle.
type LimitsConfig struct {
	PerContact    bool `yaml:"per_contact"`
	PerIP         bool `yaml:"per_ip"`
	RequestLimit  int  `yaml:"request_limit"`
	VerifyLimit   int  `yaml:"verify_limit"`
	WindowSeconds int  `yaml:"window_seconds"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

type MetricsConfig struct {
	Enabled           bool `yaml:"enabled"`
	LatencyHistograms bool `yaml:"latency_histograms"`
}

// Default returns the values used for anything the file and environment
// leave unset.
func Default() *Config {
	return &Config{
		HTTPAddr:               ":8080",
		LangID:                 "en",
		UpstreamTimeoutSeconds: 15,
		ShutdownTimeoutSeconds: 10,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "arf",
		},
		Cookie: CookieConfig{
			Secure:            true,
			SessionTTLSeconds: 900,
		},
		Limits: LimitsConfig{
			PerContact:    true,
			PerIP:         true,
			RequestLimit:  5,
			VerifyLimit:   10,
			WindowSeconds: 900,
		},
		Log: LogConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled:           true,
			LatencyHistograms: true,
		},
	}
}

// Load reads .env and .env.local (existing variables win), then the YAML
// file at path when path is non-empty and exists, then RECOVERY_* overrides.
func Load(path string) (*Config, error) {
	loadDotEnv()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", name, err)
		}
	}
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("BACKEND_URL", &c.BackendURL)
	str("LANG_ID", &c.LangID)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("REDIS_PREFIX", &c.Redis.Prefix)
	str("COOKIE_SECRET", &c.Cookie.Secret)
	str("COOKIE_DOMAIN", &c.Cookie.Domain)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = splitList(v)
	}

	for _, f := range []func() error{
		func() error { return num("REDIS_DB", &c.Redis.DB) },
		func() error { return num("UPSTREAM_TIMEOUT_SECONDS", &c.UpstreamTimeoutSeconds) },
		func() error { return num("SESSION_TTL_SECONDS", &c.Cookie.SessionTTLSeconds) },
		func() error { return num("OTP_REQUEST_LIMIT", &c.Limits.RequestLimit) },
		func() error { return num("OTP_VERIFY_LIMIT", &c.Limits.VerifyLimit) },
		func() error { return num("OTP_REQUEST_WINDOW_SECONDS", &c.Limits.WindowSeconds) },
		func() error { return flag("COOKIE_SECURE", &c.Cookie.Secure) },
		func() error { return flag("AUDIT_ENABLED", &c.Audit.Enabled) },
		func() error { return flag("METRICS_ENABLED", &c.Metrics.Enabled) },
		func() error { return flag("LOG_DEVELOPMENT", &c.Log.Development) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values the service cannot start with. An empty
// BackendURL is allowed; the routes then answer 500.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http_addr is required")
	}
	if c.UpstreamTimeoutSeconds <= 0 {
		return errors.New("upstream_timeout_seconds must be > 0")
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		return errors.New("shutdown_timeout_seconds must be > 0")
	}
	if c.Cookie.Secret != "" && len(c.Cookie.Secret) < minCookieSecretLen {
		return fmt.Errorf("cookie secret must be at least %d bytes", minCookieSecretLen)
	}
	if c.Cookie.SessionTTLSeconds <= 0 {
		return errors.New("session_ttl_seconds must be > 0")
	}
	if c.Limits.RequestLimit < 0 || c.Limits.VerifyLimit < 0 {
		return errors.New("otp limits must be >= 0")
	}
	if (c.Limits.RequestLimit > 0 || c.Limits.VerifyLimit > 0) && c.Limits.WindowSeconds <= 0 {
		return errors.New("window_seconds must be > 0 when limits are set")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer_size must be > 0 when audit is enabled")
	}
	return nil
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Cookie.SessionTTLSeconds) * time.Second
}

func (c *Config) LimitWindow() time.Duration {
	return time.Duration(c.Limits.WindowSeconds) * time.Second
}
