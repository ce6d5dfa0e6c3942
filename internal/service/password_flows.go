package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/cache"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
)

// RequestPasswordReset stores a reset token and asks the notification service
// to mail it. It reports success for unknown emails so callers cannot probe
// for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := s.startSpan(ctx, "AuthService.RequestPasswordReset")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeIdentifier(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("load user: %w", err)
	}

	resetToken, err := token.NewOpaque()
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, cache.ResetKey(resetToken), user.ID, s.cfg.ResetTokenTTL); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store reset token: %w", err)
	}
	if err := events.Publish(ctx, s.bus, events.PasswordResetRequested{
		Email:      user.Email,
		Name:       user.Name,
		ResetToken: resetToken,
	}); err != nil {
		span.RecordError(err)
		_ = s.store.Del(ctx, cache.ResetKey(resetToken))
		s.log().Error("password reset event not delivered", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}

	s.audit("password.reset.requested", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a reset token, stores the new hash and invalidates
// every outstanding refresh token. The token survives a failed update.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	if resetToken == "" {
		return domain.ErrResetTokenInvalid
	}
	key := cache.ResetKey(resetToken)
	if _, ok, err := s.store.Get(ctx, key); err != nil {
		span.RecordError(err)
		return fmt.Errorf("load reset token: %w", err)
	} else if !ok {
		return domain.ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userID, ok, err := s.store.GetDel(ctx, key)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("consume reset token: %w", err)
	}
	if !ok {
		return domain.ErrResetTokenInvalid
	}
	if _, err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrResetTokenInvalid
		}
		span.RecordError(err)
		if restoreErr := s.store.Set(ctx, key, userID, s.cfg.ResetTokenTTL); restoreErr != nil {
			s.log().Error("reset token not restored", zap.String("user_id", userID), zap.Error(restoreErr))
		}
		return fmt.Errorf("update password: %w", err)
	}

	s.audit("password.reset.completed", "user_id", userID)
	return nil
}

// ChangePassword replaces the password of an authenticated, verified user.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ChangePassword")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !user.IsVerified {
		return domain.ErrNotVerified
	}
	valid, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !valid {
		s.audit("password.change.failure", "user_id", userID)
		return domain.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		span.RecordError(err)
		return fmt.Errorf("update password: %w", err)
	}

	s.audit("password.change.success", "user_id", userID)
	return nil
}
