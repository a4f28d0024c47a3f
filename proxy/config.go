package proxy

import (
	"errors"
	"net/http"
	"time"
)

const (
	// DefaultLangID is injected as the lang-id header when Config.LangID is empty.
	DefaultLangID = "en"
	// DefaultCookieName names the signed flow cookie.
	DefaultCookieName = "recovery_flow"
)

// Config controls the proxy routes.
type Config struct {
	// BackendURL is the upstream base URL. An empty value makes every
	// recovery route answer 500 instead of refusing to start.
	BackendURL      string
	LangID          string
	UpstreamTimeout time.Duration
	// MaxBodyBytes caps inbound request bodies.
	MaxBodyBytes int64

	AllowedOrigins []string

	CookieName     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
	// SessionTTL bounds how long a flow session and its cookie stay valid.
	SessionTTL time.Duration
}

// DefaultConfig returns the proxy defaults.
func DefaultConfig() Config {
	return Config{
		LangID:          DefaultLangID,
		UpstreamTimeout: 15 * time.Second,
		MaxBodyBytes:    64 << 10,
		CookieName:      DefaultCookieName,
		CookieSecure:    true,
		CookieSameSite:  http.SameSiteStrictMode,
		SessionTTL:      15 * time.Minute,
	}
}

// Validate checks the values NewRouter cannot repair.
func (c Config) Validate() error {
	if c.UpstreamTimeout < 0 {
		return errors.New("proxy: UpstreamTimeout must be >= 0")
	}
	if c.MaxBodyBytes < 0 {
		return errors.New("proxy: MaxBodyBytes must be >= 0")
	}
	if c.SessionTTL < 0 {
		return errors.New("proxy: SessionTTL must be >= 0")
	}
	return nil
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.LangID == "" {
		c.LangID = def.LangID
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = def.UpstreamTimeout
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.CookieName == "" {
		c.CookieName = def.CookieName
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = def.CookieSameSite
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = def.SessionTTL
	}
	return c
}
