package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository = (*PostgresUserRepo)(nil)
	_ SagaRepository = (*PostgresSagaRepo)(nil)
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, name, role, status, is_verified,
	two_factor_enabled, two_factor_secret, token_version, created_at, updated_at`

// PostgresUserRepo implements UserRepository using pgx.
type PostgresUserRepo struct {
	db DBTX
}

func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	created, err := insertUser(ctx, r.db, user)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) MarkVerified(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) (int, error) {
	var version int
	err := r.db.QueryRow(ctx, `UPDATE users
		SET password_hash = $2, token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING token_version`, id, passwordHash).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("update password: %w", notFound(err))
	}
	return version, nil
}

func (r *PostgresUserRepo) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := r.db.QueryRow(ctx, `UPDATE users
		SET token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING token_version`, id).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("increment token version: %w", notFound(err))
	}
	return version, nil
}

func (r *PostgresUserRepo) SetTwoFactorSecret(ctx context.Context, id string, secret *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET two_factor_secret = $2, updated_at = NOW() WHERE id = $1`, id, secret)
	if err != nil {
		return fmt.Errorf("set two factor secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepo) EnableTwoFactor(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET two_factor_enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND two_factor_secret IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("enable two factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEnrollmentNotStarted
	}
	return nil
}

func (r *PostgresUserRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PostgresSagaRepo implements SagaRepository using pgx transactions.
type PostgresSagaRepo struct {
	db DBTX
}

func NewPostgresSagaRepo(db DBTX) *PostgresSagaRepo {
	return &PostgresSagaRepo{db: db}
}

func (r *PostgresSagaRepo) StartRegistration(ctx context.Context, user domain.User) (domain.User, error) {
	var created domain.User
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		created, err = insertUser(ctx, tx, user)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO registration_sagas (user_id, status) VALUES ($1, $2)`,
			created.ID, string(domain.SagaPending))
		return err
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("start registration: %w", err)
	}
	return created, nil
}

func (r *PostgresSagaRepo) Commit(ctx context.Context, userID string) (bool, error) {
	applied, err := r.resolve(ctx, userID, domain.SagaCompleted, "",
		`UPDATE users SET status = 'ACTIVE', updated_at = NOW() WHERE id = $1 AND status = 'PENDING'`)
	if err != nil {
		return false, fmt.Errorf("commit saga: %w", err)
	}
	return applied, nil
}

func (r *PostgresSagaRepo) Compensate(ctx context.Context, userID, reason string) (bool, error) {
	applied, err := r.resolve(ctx, userID, domain.SagaCompensated, reason,
		`DELETE FROM users WHERE id = $1 AND status = 'PENDING'`)
	if err != nil {
		return false, fmt.Errorf("compensate saga: %w", err)
	}
	return applied, nil
}

// resolve moves a pending saga to its final status and applies the user
// mutation in the same transaction. Only the first outcome is applied.
func (r *PostgresSagaRepo) resolve(ctx context.Context, userID string, status domain.SagaStatus, reason, userStmt string) (bool, error) {
	var applied bool
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE registration_sagas
			SET status = $2, reason = $3, updated_at = NOW()
			WHERE user_id = $1 AND status = 'PENDING'`, userID, string(status), reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, userStmt, userID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *PostgresSagaRepo) Get(ctx context.Context, userID string) (domain.RegistrationSaga, error) {
	var (
		saga   domain.RegistrationSaga
		status string
	)
	err := r.db.QueryRow(ctx, `SELECT user_id, status, reason, created_at, updated_at
		FROM registration_sagas WHERE user_id = $1`, userID).
		Scan(&saga.UserID, &status, &saga.Reason, &saga.CreatedAt, &saga.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RegistrationSaga{}, domain.ErrSagaNotFound
		}
		return domain.RegistrationSaga{}, fmt.Errorf("get saga: %w", err)
	}
	saga.Status = domain.SagaStatus(status)
	return saga, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertUser(ctx context.Context, db queryRower, user domain.User) (domain.User, error) {
	var name *string
	if user.Name != "" {
		name = &user.Name
	}
	row := db.QueryRow(ctx, `INSERT INTO users (id, email, password_hash, name, role, status, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		user.ID, normalizeEmail(user.Email), user.PasswordHash, name, string(user.Role), string(user.Status), user.IsVerified)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, domain.ErrEmailTaken
		}
		return domain.User{}, err
	}
	return created, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user         domain.User
		name         *string
		role, status string
	)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &name, &role, &status, &user.IsVerified,
		&user.TwoFactorEnabled, &user.TwoFactorSecret, &user.TokenVersion, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	if name != nil {
		user.Name = *name
	}
	user.Role = domain.Role(role)
	user.Status = domain.Status(status)
	return user, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
