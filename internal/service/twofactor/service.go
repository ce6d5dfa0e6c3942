// Package twofactor implements TOTP enrollment and the second login step.
package twofactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/cache"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
	"github.com/Sanglm2207/my-microservices-app/internal/secretbox"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
	"github.com/Sanglm2207/my-microservices-app/internal/totp"
)

// TokenIssuer signs a token pair once the second factor is satisfied.
type TokenIssuer interface {
	IssueTokens(ctx context.Context, user domain.User, twoFactorSatisfied bool) (token.Pair, error)
}

// Enrollment is returned when a user starts 2FA setup.
type Enrollment struct {
	ProvisioningURI string
}

// Service drives the 2FA state machine.
type Service struct {
	users      repository.UserRepository
	store      repository.EphemeralStore
	tokens     TokenIssuer
	box        *secretbox.Box
	otp        *totp.Authenticator
	sessionTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewService wires dependencies.
func NewService(users repository.UserRepository, store repository.EphemeralStore, tokens TokenIssuer, box *secretbox.Box, otp *totp.Authenticator, sessionTTL time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		users:      users,
		store:      store,
		tokens:     tokens,
		box:        box,
		otp:        otp,
		sessionTTL: sessionTTL,
		now:        time.Now,
		logger:     logger.Named("twofactor"),
		tracer:     otel.Tracer("github.com/Sanglm2207/my-microservices-app/internal/service/twofactor"),
	}
}

// WithClock overrides the time source used for code validation.
func (s *Service) WithClock(now func() time.Time) *Service {
	clone := *s
	clone.now = now
	return &clone
}

// BeginEnrollment generates and stores a sealed pending secret. Starting again
// while enrolling replaces the previous secret.
func (s *Service) BeginEnrollment(ctx context.Context, userID, email string) (Enrollment, error) {
	ctx, span := s.tracer.Start(ctx, "twofactor.BeginEnrollment", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return Enrollment{}, fmt.Errorf("load user: %w", err)
	}
	if user.TwoFactorEnabled {
		return Enrollment{}, domain.ErrAlreadyEnrolled
	}
	if email == "" {
		email = user.Email
	}

	generated, err := s.otp.Generate(email)
	if err != nil {
		span.RecordError(err)
		return Enrollment{}, err
	}
	sealed, err := s.box.Seal(generated.Secret)
	if err != nil {
		span.RecordError(err)
		return Enrollment{}, fmt.Errorf("seal secret: %w", err)
	}
	if err := s.users.SetTwoFactorSecret(ctx, userID, &sealed); err != nil {
		span.RecordError(err)
		return Enrollment{}, fmt.Errorf("store pending secret: %w", err)
	}

	s.logger.Info("2fa enrollment started", zap.String("user_id", userID))
	return Enrollment{ProvisioningURI: generated.URI}, nil
}

// ConfirmEnrollment promotes the pending secret when code matches. A wrong
// code clears the pending secret and reports false.
func (s *Service) ConfirmEnrollment(ctx context.Context, userID, code string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "twofactor.ConfirmEnrollment", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("load user: %w", err)
	}
	switch user.TwoFactorState() {
	case domain.TwoFactorEnabled:
		return false, domain.ErrAlreadyEnrolled
	case domain.TwoFactorDisabled:
		return false, domain.ErrEnrollmentNotStarted
	}

	secret, err := s.box.Open(*user.TwoFactorSecret)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("open pending secret: %w", err)
	}

	if !s.otp.Validate(normalizeCode(code), secret, s.now()) {
		if err := s.users.SetTwoFactorSecret(ctx, userID, nil); err != nil {
			return false, fmt.Errorf("clear pending secret: %w", err)
		}
		s.logger.Info("2fa enrollment rejected", zap.String("user_id", userID))
		return false, nil
	}
	if err := s.users.EnableTwoFactor(ctx, userID); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("enable 2fa: %w", err)
	}
	s.logger.Info("2fa enabled", zap.String("user_id", userID))
	return true, nil
}

// StartLoginChallenge records a short-lived OTP session after the password
// step and returns its opaque token.
func (s *Service) StartLoginChallenge(ctx context.Context, userID string) (string, error) {
	session, err := token.NewOpaque()
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, cache.OTPSessionKey(session), userID, s.sessionTTL); err != nil {
		return "", fmt.Errorf("store otp session: %w", err)
	}
	return session, nil
}

// CompleteLoginChallenge consumes the OTP session and issues a fully
// authenticated pair. The session is burnt even when the code is wrong.
func (s *Service) CompleteLoginChallenge(ctx context.Context, otpToken, code string) (domain.User, token.Pair, error) {
	ctx, span := s.tracer.Start(ctx, "twofactor.CompleteLoginChallenge")
	defer span.End()

	if otpToken == "" {
		return domain.User{}, token.Pair{}, domain.ErrOtpSessionExpired
	}
	userID, ok, err := s.store.GetDel(ctx, cache.OTPSessionKey(otpToken))
	if err != nil {
		span.RecordError(err)
		return domain.User{}, token.Pair{}, fmt.Errorf("consume otp session: %w", err)
	}
	if !ok {
		return domain.User{}, token.Pair{}, domain.ErrOtpSessionExpired
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, token.Pair{}, domain.ErrOtpSessionExpired
		}
		return domain.User{}, token.Pair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return domain.User{}, token.Pair{}, domain.ErrInvalidOtpCode
	}

	secret, err := s.box.Open(*user.TwoFactorSecret)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, token.Pair{}, fmt.Errorf("open secret: %w", err)
	}
	code = normalizeCode(code)
	if !s.otp.Validate(code, secret, s.now()) {
		s.logger.Info("2fa login rejected", zap.String("user_id", user.ID))
		return domain.User{}, token.Pair{}, domain.ErrInvalidOtpCode
	}

	fresh, err := s.store.SetNX(ctx, cache.OTPUsedKey(user.ID, code), "true", totp.ReplayWindow())
	if err != nil {
		span.RecordError(err)
		return domain.User{}, token.Pair{}, fmt.Errorf("record used code: %w", err)
	}
	if !fresh {
		s.logger.Warn("2fa code replay", zap.String("user_id", user.ID))
		return domain.User{}, token.Pair{}, domain.ErrInvalidOtpCode
	}

	pair, err := s.tokens.IssueTokens(ctx, user, true)
	if err != nil {
		return domain.User{}, token.Pair{}, err
	}
	return user, pair, nil
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}
