package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every parse or validation failure.
var ErrInvalidToken = errors.New("jwt: invalid access token")

// SigningMethod selects the token algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

const minHMACKeyLen = 32

// Config configures a [Manager].
type Config struct {
	TTL    time.Duration
	Method SigningMethod
	// Secret is the HMAC key for MethodHS256.
	Secret []byte
	// PrivateKey and PublicKey are raw or PEM Ed25519 keys for MethodEd25519.
	// A manager with only a public key can verify but not sign.
	PrivateKey []byte
	PublicKey  []byte
	KeyID      string
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// AccessClaims binds a token to a user and a session.
type AccessClaims struct {
	UID string `json:"uid"`
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager signs and parses access tokens. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	method  jwt.SigningMethod
	signKey any
	verify  any
	now     func() time.Time
}

// NewManager validates cfg and loads the keys.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("jwt: TTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{cfg: cfg, now: time.Now}
	switch cfg.Method {
	case MethodHS256, "":
		if len(cfg.Secret) < minHMACKeyLen {
			return nil, fmt.Errorf("jwt: hs256 secret must be at least %d bytes", minHMACKeyLen)
		}
		m.cfg.Method = MethodHS256
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.Secret
		m.verify = cfg.Secret
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
			m.verify = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verify = pub
		}
		if m.verify == nil {
			return nil, errors.New("jwt: ed25519 requires a private or public key")
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.Method)
	}
	return m, nil
}

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

// CreateAccess signs a token for uid bound to session sid and returns it with
// its expiry.
func (m *Manager) CreateAccess(uid, sid string) (string, time.Time, error) {
	if m.signKey == nil {
		return "", time.Time{}, errors.New("jwt: manager has no signing key")
	}
	if uid == "" || sid == "" {
		return "", time.Time{}, errors.New("jwt: uid and sid are required")
	}

	now := m.now()
	expires := now.Add(m.cfg.TTL)
	claims := AccessClaims{
		UID: uid,
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.cfg.KeyID != "" {
		token.Header["kid"] = m.cfg.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, expires, nil
}

// ParseAccess verifies the signature and registered claims of token.
func (m *Manager) ParseAccess(token string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.cfg.Audience))
	}

	claims := &AccessClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if m.cfg.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != m.cfg.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.verify, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, fmt.Errorf("%w: missing uid or sid", ErrInvalidToken)
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return priv, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return pub, nil
}
