package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

var userCols = []string{"id", "email", "password_hash", "name", "role", "status", "is_verified",
	"two_factor_enabled", "two_factor_secret", "token_version", "created_at", "updated_at"}

func userRow(id, email string, status domain.Status) *pgxmock.Rows {
	now := time.Now()
	name := "Ann"
	return pgxmock.NewRows(userCols).
		AddRow(id, email, "hash", &name, "USER", string(status), false, false, (*string)(nil), 0, now, now)
}

func TestUserRepoGetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresUserRepo(mock)
	ctx := context.Background()

	t.Run("success normalizes email", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email").
			WithArgs("ann@example.com").
			WillReturnRows(userRow("1", "ann@example.com", domain.StatusActive))

		user, err := r.GetByEmail(ctx, "  Ann@Example.com ")
		require.NoError(t, err)
		assert.Equal(t, "1", user.ID)
		assert.Equal(t, "Ann", user.Name)
		assert.Equal(t, domain.StatusActive, user.Status)
		assert.Equal(t, domain.TwoFactorDisabled, user.TwoFactorState())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email").
			WithArgs("missing@example.com").
			WillReturnError(pgx.ErrNoRows)

		_, err := r.GetByEmail(ctx, "missing@example.com")
		require.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoCreateDuplicateEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresUserRepo(mock)
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("1", "ann@example.com", "hash", pgxmock.AnyArg(), "USER", "PENDING", false).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err = r.Create(context.Background(), domain.User{
		ID: "1", Email: "ann@example.com", PasswordHash: "hash", Name: "Ann",
		Role: domain.RoleUser, Status: domain.StatusPending,
	})
	require.ErrorIs(t, err, domain.ErrEmailTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoVersionBumps(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresUserRepo(mock)
	ctx := context.Background()

	mock.ExpectQuery("UPDATE users").
		WithArgs("1", "new-hash").
		WillReturnRows(pgxmock.NewRows([]string{"token_version"}).AddRow(3))
	version, err := r.UpdatePassword(ctx, "1", "new-hash")
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	mock.ExpectQuery("UPDATE users").
		WithArgs("1").
		WillReturnRows(pgxmock.NewRows([]string{"token_version"}).AddRow(4))
	version, err = r.IncrementTokenVersion(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 4, version)

	mock.ExpectQuery("UPDATE users").
		WithArgs("2").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.IncrementTokenVersion(ctx, "2")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoTwoFactor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresUserRepo(mock)
	ctx := context.Background()
	sealed := "v1:k1:abc"

	mock.ExpectExec("UPDATE users SET two_factor_secret").
		WithArgs("1", &sealed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetTwoFactorSecret(ctx, "1", &sealed))

	mock.ExpectExec("UPDATE users SET two_factor_enabled").
		WithArgs("1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.EnableTwoFactor(ctx, "1"), domain.ErrEnrollmentNotStarted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresUserRepo(mock)
	mock.ExpectExec("DELETE FROM users").WithArgs("1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM users").WithArgs("1").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	deleted, err := r.Delete(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = r.Delete(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepoStartRegistration(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresSagaRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("1", "ann@example.com", "hash", pgxmock.AnyArg(), "USER", "PENDING", false).
		WillReturnRows(userRow("1", "ann@example.com", domain.StatusPending))
	mock.ExpectExec("INSERT INTO registration_sagas").
		WithArgs("1", "PENDING").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	user, err := r.StartRegistration(context.Background(), domain.User{
		ID: "1", Email: "ann@example.com", PasswordHash: "hash", Role: domain.RoleUser, Status: domain.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, user.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepoStartRegistrationRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresSagaRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(userRow("1", "ann@example.com", domain.StatusPending))
	mock.ExpectExec("INSERT INTO registration_sagas").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = r.StartRegistration(context.Background(), domain.User{ID: "1", Email: "ann@example.com", Role: domain.RoleUser, Status: domain.StatusPending})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepoCommitFirstOutcomeWins(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresSagaRepo(mock)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE registration_sagas").
		WithArgs("1", "COMPLETED", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE users SET status = 'ACTIVE'").
		WithArgs("1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	applied, err := r.Commit(ctx, "1")
	require.NoError(t, err)
	assert.True(t, applied)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE registration_sagas").
		WithArgs("1", "COMPENSATED", "smtp down").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	applied, err = r.Compensate(ctx, "1", "smtp down")
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepoCompensateDeletesUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresSagaRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE registration_sagas").
		WithArgs("9", "COMPENSATED", "bounced").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM users").
		WithArgs("9").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	applied, err := r.Compensate(context.Background(), "9", "bounced")
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaRepoGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := repository.NewPostgresSagaRepo(mock)
	now := time.Now()

	mock.ExpectQuery("SELECT user_id, status").
		WithArgs("1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "status", "reason", "created_at", "updated_at"}).
			AddRow("1", "COMPLETED", "", now, now))
	saga, err := r.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, domain.SagaCompleted, saga.Status)

	mock.ExpectQuery("SELECT user_id, status").
		WithArgs("2").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(context.Background(), "2")
	require.ErrorIs(t, err, domain.ErrSagaNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
