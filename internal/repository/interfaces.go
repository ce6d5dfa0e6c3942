package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
)

// DBTX is the subset of pgxpool.Pool used by the repositories.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepository exposes persistence for credential records. Lookups return
// domain.ErrUserNotFound when the row is absent.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	MarkVerified(ctx context.Context, id string) error
	// UpdatePassword stores a new hash and bumps token_version, returning it.
	UpdatePassword(ctx context.Context, id, passwordHash string) (int, error)
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
	// SetTwoFactorSecret stores or clears (nil) the sealed pending secret.
	SetTwoFactorSecret(ctx context.Context, id string, secret *string) error
	EnableTwoFactor(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
}

// SagaRepository persists the registration saga log alongside the user row.
type SagaRepository interface {
	// StartRegistration inserts the pending user and its saga row atomically.
	StartRegistration(ctx context.Context, user domain.User) (domain.User, error)
	// Commit activates a pending user. It reports false when the saga was
	// already resolved.
	Commit(ctx context.Context, userID string) (bool, error)
	// Compensate deletes the user. It reports false when the saga was already
	// resolved.
	Compensate(ctx context.Context, userID, reason string) (bool, error)
	Get(ctx context.Context, userID string) (domain.RegistrationSaga, error)
}

// EphemeralStore is the TTL key-value store holding single-use tokens and the
// refresh blacklist. Absent keys are reported with ok=false, never an error.
type EphemeralStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	GetDel(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
}
