package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// MinLength is the shortest accepted password, in bytes.
	MinLength = 10
	// DefaultMaxLength bounds hashing cost for oversized input.
	DefaultMaxLength = 1024

	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrTooShort is returned for passwords below MinLength.
	ErrTooShort = errors.New("password: too short")
	// ErrTooLong is returned for passwords above the configured maximum.
	ErrTooLong = errors.New("password: too long")
	// ErrInvalidHash is returned for stored hashes that cannot be parsed.
	ErrInvalidHash = errors.New("password: invalid hash")
)

// Hasher hashes new passwords and verifies candidates against stored hashes.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
}

// Config holds the Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxLength defaults to DefaultMaxLength when zero.
	MaxLength int
}

// DefaultConfig returns the RFC 9106 second recommended profile.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MaxLength:   DefaultMaxLength,
	}
}

// Validate reports parameters below the accepted floor.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KiB", minMemoryKB)
	case c.Time < 1:
		return errors.New("password: time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("password: parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password: key length must be >= %d", minKeyLength)
	case c.MaxLength < 0:
		return errors.New("password: max length must be >= 0")
	}
	return nil
}

// Argon2 is the Argon2id [Hasher]. It is safe for concurrent use.
type Argon2 struct {
	cfg Config
}

var _ Hasher = (*Argon2)(nil)

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	return &Argon2{cfg: cfg}, nil
}

// CheckPolicy applies the length rules without hashing. Bytes are taken as
// given, with no Unicode normalisation.
func (a *Argon2) CheckPolicy(plaintext string) error {
	if len(plaintext) < MinLength {
		return ErrTooShort
	}
	if len(plaintext) > a.cfg.MaxLength {
		return ErrTooLong
	}
	return nil
}

// Hash returns the PHC encoding of plaintext under a fresh random salt.
func (a *Argon2) Hash(plaintext string) (string, error) {
	if err := a.CheckPolicy(plaintext); err != nil {
		return "", err
	}

	salt := make([]byte, a.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, a.cfg.Time, a.cfg.Memory, a.cfg.Parallelism, a.cfg.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		a.cfg.Memory, a.cfg.Time, a.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches encoded. The comparison is
// constant time.
func (a *Argon2) Verify(plaintext, encoded string) (bool, error) {
	if len(plaintext) > a.cfg.MaxLength {
		return false, ErrTooLong
	}
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(plaintext), h.salt, h.time, h.memory, h.parallelism, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters than
// the current configuration.
func (a *Argon2) NeedsRehash(encoded string) (bool, error) {
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return h.memory < a.cfg.Memory ||
		h.time < a.cfg.Time ||
		h.parallelism < a.cfg.Parallelism ||
		uint32(len(h.key)) != a.cfg.KeyLength, nil
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidHash, reason)
}

func decodePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, invalid("not a PHC string")
	}
	if parts[1] != algorithmID {
		return nil, invalid("unsupported algorithm " + parts[1])
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, invalid("bad version")
	}
	if version != argon2.Version {
		return nil, invalid("unsupported version")
	}

	h := &phc{}
	seen := 0
	for _, pair := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, invalid("bad parameter")
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return nil, invalid("bad memory")
			}
			h.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < 1 {
				return nil, invalid("bad time")
			}
			h.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < 1 {
				return nil, invalid("bad parallelism")
			}
			h.parallelism = uint8(v)
		default:
			return nil, invalid("unknown parameter " + name)
		}
		seen++
	}
	if seen != 3 || h.memory == 0 || h.time == 0 || h.parallelism == 0 {
		return nil, invalid("missing parameters")
	}

	if h.salt, err = decodeB64(parts[4]); err != nil || len(h.salt) < int(minSaltLength) {
		return nil, invalid("bad salt")
	}
	if h.key, err = decodeB64(parts[5]); err != nil || len(h.key) == 0 {
		return nil, invalid("bad key")
	}
	return h, nil
}

// decodeB64 accepts padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
