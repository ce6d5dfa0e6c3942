// Package token issues, verifies, rotates and revokes the access/refresh
// token pair.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/cache"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/jwt"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// AccessClaims is the authorization state carried by an access token.
type AccessClaims struct {
	UserID                   string      `json:"userId"`
	Role                     domain.Role `json:"role"`
	Email                    string      `json:"email"`
	IsTwoFactorAuthenticated bool        `json:"isTwoFactorAuthenticated"`
	Use                      string      `json:"token_use"`
}

// RefreshClaims binds a refresh token to the user's token version.
type RefreshClaims struct {
	UserID    string `json:"userId"`
	Version   int    `json:"version"`
	TwoFactor bool   `json:"tfa,omitempty"`
	Use       string `json:"token_use"`
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Manager implements the token lifecycle.
type Manager struct {
	users   repository.UserRepository
	store   repository.EphemeralStore
	access  *jwt.Signer
	refresh *jwt.Signer
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewManager wires dependencies. access and refresh must use distinct keyrings.
func NewManager(users repository.UserRepository, store repository.EphemeralStore, access, refresh *jwt.Signer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.L()
	}
	return &Manager{
		users:   users,
		store:   store,
		access:  access,
		refresh: refresh,
		logger:  logger.Named("token"),
		tracer:  otel.Tracer("github.com/Sanglm2207/my-microservices-app/internal/service/token"),
	}
}

// IssueTokens signs a new pair. Users without 2FA are always fully
// authenticated; 2FA users only when twoFactorSatisfied.
func (m *Manager) IssueTokens(ctx context.Context, user domain.User, twoFactorSatisfied bool) (Pair, error) {
	_, span := m.tracer.Start(ctx, "token.IssueTokens", trace.WithAttributes(attribute.String("user.id", user.ID)))
	defer span.End()

	satisfied := !user.TwoFactorEnabled || twoFactorSatisfied
	access, accessExp, err := m.access.Sign(user.ID, AccessClaims{
		UserID:                   user.ID,
		Role:                     user.Role,
		Email:                    user.Email,
		IsTwoFactorAuthenticated: satisfied,
		Use:                      useAccess,
	})
	if err != nil {
		span.RecordError(err)
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := m.refresh.Sign(user.ID, RefreshClaims{
		UserID:    user.ID,
		Version:   user.TokenVersion,
		TwoFactor: user.TwoFactorEnabled && twoFactorSatisfied,
		Use:       useRefresh,
	})
	if err != nil {
		span.RecordError(err)
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccessToken checks signature and expiry only.
func (m *Manager) VerifyAccessToken(token string) (AccessClaims, error) {
	var claims AccessClaims
	if _, err := m.access.Verify(token, &claims); err != nil {
		return AccessClaims{}, err
	}
	if claims.Use != useAccess || claims.UserID == "" {
		return AccessClaims{}, domain.ErrInvalidToken
	}
	return claims, nil
}

// RotateRefreshToken exchanges a refresh token for a new pair and blacklists
// the presented token for the rest of its lifetime. Concurrent rotations of
// the same token race on the blacklist key; only one wins.
func (m *Manager) RotateRefreshToken(ctx context.Context, token string) (domain.User, Pair, error) {
	ctx, span := m.tracer.Start(ctx, "token.RotateRefreshToken")
	defer span.End()

	user, claims, remaining, err := m.checkRefresh(ctx, token)
	if err != nil {
		span.RecordError(err)
		m.logger.Info("refresh rejected", zap.Error(err))
		return domain.User{}, Pair{}, err
	}

	won, err := m.store.SetNX(ctx, cache.BlacklistKey(token), "true", remaining)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, Pair{}, fmt.Errorf("blacklist refresh token: %w", err)
	}
	if !won {
		m.logger.Warn("refresh token reuse detected", zap.String("user_id", user.ID))
		return domain.User{}, Pair{}, domain.ErrTokenBlacklisted
	}

	pair, err := m.IssueTokens(ctx, user, claims.TwoFactor)
	if err != nil {
		return domain.User{}, Pair{}, err
	}
	return user, pair, nil
}

func (m *Manager) checkRefresh(ctx context.Context, token string) (domain.User, RefreshClaims, time.Duration, error) {
	if token == "" {
		return domain.User{}, RefreshClaims{}, 0, domain.ErrInvalidToken
	}
	listed, err := m.store.Exists(ctx, cache.BlacklistKey(token))
	if err != nil {
		return domain.User{}, RefreshClaims{}, 0, fmt.Errorf("check blacklist: %w", err)
	}

	var claims RefreshClaims
	std, err := m.refresh.Verify(token, &claims)
	if err != nil {
		if listed {
			return domain.User{}, RefreshClaims{}, 0, domain.ErrTokenBlacklisted
		}
		return domain.User{}, RefreshClaims{}, 0, err
	}
	if claims.Use != useRefresh || claims.UserID == "" {
		return domain.User{}, RefreshClaims{}, 0, domain.ErrInvalidToken
	}

	user, err := m.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, RefreshClaims{}, 0, domain.ErrInvalidToken
		}
		return domain.User{}, RefreshClaims{}, 0, fmt.Errorf("load user: %w", err)
	}
	// A revoked version wins over the blacklist.
	if user.TokenVersion != claims.Version {
		return domain.User{}, RefreshClaims{}, 0, domain.ErrTokenVersionStale
	}
	if listed {
		return domain.User{}, RefreshClaims{}, 0, domain.ErrTokenBlacklisted
	}

	remaining := m.refresh.Remaining(std)
	if remaining < time.Second {
		remaining = time.Second
	}
	return user, claims, remaining, nil
}

// RevokeAllSessions invalidates every refresh token issued to the user.
func (m *Manager) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "token.RevokeAllSessions", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	version, err := m.users.IncrementTokenVersion(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	m.logger.Info("sessions revoked", zap.String("user_id", userID), zap.Int("token_version", version))
	return version, nil
}

// Revoke blacklists a single refresh token. Tokens that are already invalid
// are ignored.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	var claims RefreshClaims
	std, err := m.refresh.Verify(token, &claims)
	if err != nil {
		return nil
	}
	remaining := m.refresh.Remaining(std)
	if remaining < time.Second {
		return nil
	}
	if _, err := m.store.SetNX(ctx, cache.BlacklistKey(token), "true", remaining); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// AccessTTL and RefreshTTL expose lifetimes for cookie max-age.
func (m *Manager) AccessTTL() time.Duration  { return m.access.TTL() }
func (m *Manager) RefreshTTL() time.Duration { return m.refresh.TTL() }
