package domain

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrNotVerified signals valid credentials with an unconfirmed email.
	ErrNotVerified = errors.New("auth: email not verified")
	// ErrAccountInactive signals a registration whose saga has not committed.
	ErrAccountInactive = errors.New("auth: account not active")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrUserNotFound is returned by the credential store for missing records.
	ErrUserNotFound = errors.New("auth: user not found")
	ErrSagaNotFound = errors.New("saga: not found")

	ErrInvalidToken      = errors.New("token: invalid")
	ErrTokenExpired      = errors.New("token: expired")
	ErrTokenBlacklisted  = errors.New("token: blacklisted")
	ErrTokenVersionStale = errors.New("token: version stale")

	ErrVerificationTokenInvalid = errors.New("auth: verification token invalid or expired")
	ErrResetTokenInvalid        = errors.New("auth: password reset token invalid or expired")

	ErrOtpSessionExpired    = errors.New("2fa: otp session invalid or expired")
	ErrInvalidOtpCode       = errors.New("2fa: invalid otp code")
	ErrEnrollmentNotStarted = errors.New("2fa: enrollment not started")
	ErrAlreadyEnrolled      = errors.New("2fa: already enabled")

	// ErrSagaDeliveryFailure wraps transient broker or store errors met while
	// driving the registration saga.
	ErrSagaDeliveryFailure = errors.New("saga: delivery failure")
)

// IsTokenError reports whether err belongs to the refresh/access token family.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenBlacklisted) ||
		errors.Is(err, ErrTokenVersionStale)
}
