//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "auth",
				"POSTGRES_PASSWORD": "auth",
				"POSTGRES_DB":       "auth",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://auth:auth@%s:%s/auth?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, repository.Migrate(ctx, pool))
	return pool
}

func TestRegistrationSagaAgainstPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(pool)
	sagas := repository.NewPostgresSagaRepo(pool)

	_, err := sagas.StartRegistration(ctx, domain.User{
		ID: "100", Email: "ann@example.com", PasswordHash: "hash", Role: domain.RoleUser, Status: domain.StatusPending,
	})
	require.NoError(t, err)

	_, err = sagas.StartRegistration(ctx, domain.User{
		ID: "101", Email: "ANN@example.com", PasswordHash: "hash", Role: domain.RoleUser, Status: domain.StatusPending,
	})
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	applied, err := sagas.Commit(ctx, "100")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = sagas.Compensate(ctx, "100", "late failure")
	require.NoError(t, err)
	require.False(t, applied)

	user, err := users.GetByID(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, user.Status)

	version, err := users.IncrementTokenVersion(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, 1, version)

	saga, err := sagas.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, domain.SagaCompleted, saga.Status)
}

func TestCompensationRemovesUserAgainstPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(pool)
	sagas := repository.NewPostgresSagaRepo(pool)

	_, err := sagas.StartRegistration(ctx, domain.User{
		ID: "200", Email: "bob@example.com", PasswordHash: "hash", Role: domain.RoleUser, Status: domain.StatusPending,
	})
	require.NoError(t, err)

	applied, err := sagas.Compensate(ctx, "200", "mailbox unavailable")
	require.NoError(t, err)
	require.True(t, applied)

	_, err = users.GetByID(ctx, "200")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	saga, err := sagas.Get(ctx, "200")
	require.NoError(t, err)
	require.Equal(t, domain.SagaCompensated, saga.Status)
	require.Equal(t, "mailbox unavailable", saga.Reason)
}
