// Package postgres is a PostgreSQL passkit.UserStore built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/passkit"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the part of a pgx pool the store uses. It is implemented by
// *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements passkit.UserStore against the users table created by
// [Migrate].
type Store struct {
	pool PgxPool
	now  func() time.Time
}

// New wraps an existing pool.
func New(pool PgxPool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Open connects a pool for dsn and pings it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return New(pool), nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying pool.
func (s *Store) Close() { s.pool.Close() }

const selectUser = `
SELECT id::text, email, password_hash, display_name, locale, role, email_verified_at, created_at, updated_at
FROM users`

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*passkit.UserRecord, error) {
	return s.scanOne(s.pool.QueryRow(ctx, selectUser+` WHERE email=$1`, email))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*passkit.UserRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, passkit.ErrUserNotFound
	}
	return s.scanOne(s.pool.QueryRow(ctx, selectUser+` WHERE id=$1`, id))
}

func (s *Store) scanOne(row pgx.Row) (*passkit.UserRecord, error) {
	var u passkit.UserRecord
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Locale, &u.Role,
		&u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, passkit.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *passkit.UserRecord) error {
	const q = `
INSERT INTO users (id, email, password_hash, display_name, locale, role, email_verified_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := s.pool.Exec(ctx, q, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.Locale, u.Role,
		u.EmailVerifiedAt, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return passkit.ErrEmailTaken
	}
	return err
}

func (s *Store) SaveUser(ctx context.Context, u *passkit.UserRecord) error {
	const q = `
UPDATE users
SET email = $2, password_hash = $3, display_name = $4, locale = $5, role = $6,
    email_verified_at = $7, updated_at = $8
WHERE id = $1`
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = s.now().UTC()
	}
	tag, err := s.pool.Exec(ctx, q, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.Locale, u.Role,
		u.EmailVerifiedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return passkit.ErrEmailTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return passkit.ErrUserNotFound
	}
	return nil
}

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}
