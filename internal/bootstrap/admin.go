package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/config"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/password"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

// EnsureAdmin creates the configured admin account on start if missing.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := ensureAdmin(ctx, cfg, users, hasher, node, logger)
			return err
		},
	})
}

// ensureAdmin reports whether an account was created. Admins skip the
// registration saga: they are stored ACTIVE and verified.
func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" {
		return false, nil
	}
	if strings.TrimSpace(cfg.AdminPassword) == "" {
		return false, fmt.Errorf("admin bootstrap missing password")
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return false, fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return false, fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := users.Create(ctx, domain.User{
		ID:           node.Generate().String(),
		Email:        email,
		PasswordHash: hashed,
		Name:         "Admin",
		Role:         domain.RoleAdmin,
		Status:       domain.StatusActive,
		IsVerified:   true,
	})
	if errors.Is(err, domain.ErrEmailTaken) {
		// Another replica won the race.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.String("user_id", created.ID),
		)
	}
	return true, nil
}
