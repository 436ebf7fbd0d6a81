package passkit

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMatchesByCode(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("login: %w", ErrUnavailable.with(cause))

	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected wrapped copy to match ErrUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay reachable")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("codes differ, must not match")
	}
	if got := err.Error(); got != "login: service temporarily unavailable: dial tcp: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrInvalidCode, http.StatusUnauthorized},
		{ErrEmailNotVerified, http.StatusForbidden},
		{ErrEmailTaken, http.StatusConflict},
		{ErrTooManyAttempts, http.StatusTooManyRequests},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrUnavailable.with(errors.New("x")), http.StatusServiceUnavailable},
		{ErrUserNotFound, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindRateLimited.String() != "rate_limited" || KindInternal.String() != "internal" {
		t.Fatalf("unexpected kind names")
	}
}

func TestNormalizeEmail(t *testing.T) {
	good := map[string]string{
		" Ada@Example.COM ": "ada@example.com",
		"x+tag@sub.example": "x+tag@sub.example",
	}
	for in, want := range good {
		got, err := normalizeEmail(in)
		if err != nil || got != want {
			t.Fatalf("normalizeEmail(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "plain", "a@", "Ada <a@example.com>", "a@example.com, b@example.com"} {
		if _, err := normalizeEmail(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("normalizeEmail(%q) accepted", in)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	mutations := []func(*Config){
		func(c *Config) { c.Session.TTL = 0 },
		func(c *Config) { c.Session.UserIndexPrefix = c.Session.KeyPrefix },
		func(c *Config) { c.OTP.CodeTTL = 0 },
		func(c *Config) { c.OTP.ResendWindow = 0 },
		func(c *Config) { c.Password.Time = 0 },
		func(c *Config) { c.Login.MaxAttempts = 0 },
		func(c *Config) { c.AccessToken.Enabled = true; c.AccessToken.JWT.TTL = 30 * 24 * 60 * 60 * 1e9 },
		func(c *Config) { c.Events.BufferSize = 0 },
	}
	for i, mutate := range mutations {
		c := DefaultConfig()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("mutation %d: expected error", i)
		}
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccessToken.JWT.Secret = []byte("secret")
	out := cloneConfig(cfg)
	cfg.AccessToken.JWT.Secret[0] = 'X'
	if string(out.AccessToken.JWT.Secret) != "secret" {
		t.Fatalf("secret shared with caller")
	}
}
