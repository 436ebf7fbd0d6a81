package passkit

import (
	"context"
	"time"
)

// Supported account locales.
const (
	LocaleEN = "en"
	LocaleFR = "fr"
	LocaleDE = "de"
)

// Account roles.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// UserRecord is the account shape the engine reads and writes through a
// [UserStore]. Emails are stored lower-cased.
type UserRecord struct {
	ID              string
	Email           string
	PasswordHash    string
	DisplayName     string
	Locale          string
	Role            string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Verified reports whether the account proved ownership of its email.
func (u *UserRecord) Verified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}

// UserStore persists accounts. Implementations return [ErrUserNotFound] for
// unknown users and [ErrEmailTaken] when CreateUser or SaveUser would give two
// accounts the same email.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindUserByID(ctx context.Context, id string) (*UserRecord, error)
	// CreateUser assigns ID, CreatedAt and UpdatedAt when they are empty.
	CreateUser(ctx context.Context, user *UserRecord) error
	SaveUser(ctx context.Context, user *UserRecord) error
}

// RegisterInput is the payload for [Engine.Register].
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Locale      string
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	User      *UserRecord
	SessionID string
	// SessionTTL is the sliding lifetime, suitable as a cookie Max-Age.
	SessionTTL time.Duration
	// AccessToken is empty unless access tokens are enabled.
	AccessToken          string
	AccessTokenExpiresAt time.Time
}

// Principal is the authenticated caller resolved from a session or token.
type Principal struct {
	UserID    string
	SessionID string
	CreatedAt time.Time
	IP        string
	UserAgent string
}
