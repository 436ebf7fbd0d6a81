package middleware

import (
	"net/http"
	"time"
)

// DefaultCookieName is used when CookieConfig.Name is empty.
const DefaultCookieName = "sid"

// CookieConfig describes the session cookie. The cookie is always HttpOnly.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	// Secure should be true in production.
	Secure   bool
	SameSite http.SameSite
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = DefaultCookieName
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// SetSessionCookie writes the session id with Max-Age set to ttl.
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, sessionID string, ttl time.Duration) {
	cfg = cfg.withDefaults()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    sessionID,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	cfg = cfg.withDefaults()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// SessionIDFromRequest returns the session cookie value, if any.
func SessionIDFromRequest(r *http.Request, cfg CookieConfig) string {
	cfg = cfg.withDefaults()
	c, err := r.Cookie(cfg.Name)
	if err != nil {
		return ""
	}
	return c.Value
}
