package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/cache"
	"github.com/Sanglm2207/my-microservices-app/internal/config"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
	pw "github.com/Sanglm2207/my-microservices-app/internal/password"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
	"github.com/Sanglm2207/my-microservices-app/internal/service/saga"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
	"github.com/Sanglm2207/my-microservices-app/internal/service/twofactor"
)

// AuthService encapsulates the credential flows around the token manager,
// the 2FA subsystem and the registration saga.
type AuthService struct {
	users     repository.UserRepository
	store     repository.EphemeralStore
	bus       events.Publisher
	saga      *saga.Coordinator
	tokens    *token.Manager
	twoFactor *twofactor.Service
	hasher    *pw.Hasher
	snowflake *snowflake.Node
	cfg       config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(users repository.UserRepository, store repository.EphemeralStore, bus events.Publisher, coordinator *saga.Coordinator, tokens *token.Manager, twoFactor *twofactor.Service, hasher *pw.Hasher, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		store:     store,
		bus:       bus,
		saga:      coordinator,
		tokens:    tokens,
		twoFactor: twoFactor,
		hasher:    hasher,
		snowflake: node,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/Sanglm2207/my-microservices-app/internal/service"),
	}
}

// Register creates a PENDING account and starts the registration saga. It
// returns without waiting for the saga to resolve.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (UserView, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		span.RecordError(err)
		return UserView{}, fmt.Errorf("hash password: %w", err)
	}
	verificationToken, err := token.NewOpaque()
	if err != nil {
		return UserView{}, err
	}

	user, err := s.saga.Begin(ctx, domain.User{
		ID:           s.snowflake.Generate().String(),
		Email:        normalizeIdentifier(in.Email),
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Role:         domain.RoleUser,
	}, verificationToken)
	if err != nil {
		span.RecordError(err)
		return UserView{}, err
	}

	s.audit("register.pending", "user_id", user.ID)
	return NewUserView(user), nil
}

// Login checks the password step. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeIdentifier(email))
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			span.RecordError(err)
			return LoginResult{}, fmt.Errorf("load user: %w", err)
		}
		s.hasher.VerifyDummy(password)
		s.audit("password.login.failure", "reason", "unknown_email")
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.log().Warn("stored password hash unreadable", zap.String("user_id", user.ID), zap.Error(err))
	}
	if err != nil || !valid {
		s.audit("password.login.failure", "user_id", user.ID, "reason", "wrong_password")
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	if !user.IsVerified {
		return LoginResult{}, domain.ErrNotVerified
	}
	if user.Status != domain.StatusActive {
		return LoginResult{}, domain.ErrAccountInactive
	}

	view := NewUserView(user)
	if user.TwoFactorEnabled {
		session, err := s.twoFactor.StartLoginChallenge(ctx, user.ID)
		if err != nil {
			span.RecordError(err)
			return LoginResult{}, err
		}
		s.audit("password.login.otp_required", "user_id", user.ID)
		return LoginResult{User: view, TwoFactorRequired: true, OTPSessionToken: session}, nil
	}

	pair, err := s.tokens.IssueTokens(ctx, user, false)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, err
	}
	s.audit("password.login.success", "user_id", user.ID)
	return LoginResult{User: view, Tokens: pair}, nil
}

// CompleteTwoFactorLogin exchanges an OTP session and code for tokens.
func (s *AuthService) CompleteTwoFactorLogin(ctx context.Context, otpSessionToken, code string) (LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.CompleteTwoFactorLogin")
	defer span.End()

	user, pair, err := s.twoFactor.CompleteLoginChallenge(ctx, otpSessionToken, code)
	if err != nil {
		span.RecordError(err)
		s.audit("otp.login.failure", "reason", err.Error())
		return LoginResult{}, err
	}
	s.audit("otp.login.success", "user_id", user.ID)
	return LoginResult{User: NewUserView(user), Tokens: pair}, nil
}

// Refresh rotates the refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	user, pair, err := s.tokens.RotateRefreshToken(ctx, refreshToken)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, err
	}
	s.audit("refresh_token.success", "user_id", user.ID)
	return LoginResult{User: NewUserView(user), Tokens: pair}, nil
}

// Logout blacklists the refresh token for its remaining lifetime.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, refreshToken)
}

// RevokeAllSessions invalidates every refresh token of the user.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) error {
	if _, err := s.tokens.RevokeAllSessions(ctx, userID); err != nil {
		return err
	}
	s.audit("sessions.revoked", "user_id", userID)
	return nil
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, verificationToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyEmail")
	defer span.End()

	if verificationToken == "" {
		return domain.ErrVerificationTokenInvalid
	}
	userID, ok, err := s.store.GetDel(ctx, cache.VerifyKey(verificationToken))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("consume verification token: %w", err)
	}
	if !ok {
		return domain.ErrVerificationTokenInvalid
	}
	if err := s.users.MarkVerified(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrVerificationTokenInvalid
		}
		span.RecordError(err)
		return fmt.Errorf("mark verified: %w", err)
	}
	s.audit("email.verified", "user_id", userID)
	return nil
}

// Me returns the caller's profile.
func (s *AuthService) Me(ctx context.Context, userID string) (UserView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return NewUserView(user), nil
}

func normalizeIdentifier(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
