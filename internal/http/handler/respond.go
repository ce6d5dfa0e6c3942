package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/http/middleware"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
)

type apiError struct {
	status      int
	code        string
	description string
}

// errInvalidToken is shared by every rejected token so callers cannot tell a
// revoked session from an unknown one.
var errInvalidToken = apiError{http.StatusUnauthorized, "invalid_token", "Invalid or expired token."}

var errorTable = []struct {
	target error
	apiError
}{
	{domain.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "invalid_credentials", "Invalid email or password."}},
	{domain.ErrNotVerified, apiError{http.StatusForbidden, "email_not_verified", "Please verify your email before continuing."}},
	{domain.ErrAccountInactive, apiError{http.StatusForbidden, "account_inactive", "Account registration is not complete."}},
	{domain.ErrEmailTaken, apiError{http.StatusConflict, "email_taken", "Email already exists."}},
	{domain.ErrUserNotFound, apiError{http.StatusNotFound, "user_not_found", "User not found."}},
	{domain.ErrTokenExpired, apiError{http.StatusUnauthorized, "token_expired", "Token expired."}},
	{domain.ErrTokenBlacklisted, errInvalidToken},
	{domain.ErrTokenVersionStale, errInvalidToken},
	{domain.ErrInvalidToken, errInvalidToken},
	{domain.ErrVerificationTokenInvalid, apiError{http.StatusBadRequest, "invalid_verification_token", "Verification link is invalid or has expired."}},
	{domain.ErrResetTokenInvalid, apiError{http.StatusBadRequest, "invalid_reset_token", "Invalid or expired password reset token."}},
	{domain.ErrOtpSessionExpired, apiError{http.StatusUnauthorized, "otp_session_expired", "OTP session is invalid or has expired."}},
	{domain.ErrInvalidOtpCode, apiError{http.StatusUnauthorized, "invalid_otp", "Invalid 2FA code."}},
	{domain.ErrEnrollmentNotStarted, apiError{http.StatusBadRequest, "enrollment_not_started", "2FA setup was not initiated."}},
	{domain.ErrAlreadyEnrolled, apiError{http.StatusConflict, "already_enrolled", "2FA is already enabled."}},
	{domain.ErrSagaDeliveryFailure, apiError{http.StatusServiceUnavailable, "temporarily_unavailable", "Registration is temporarily unavailable."}},
}

func respondError(c *gin.Context, err error) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.target) {
			if entry.status >= http.StatusInternalServerError {
				zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
			}
			c.JSON(entry.status, gin.H{"error": entry.code, "error_description": entry.description})
			return
		}
	}
	_ = c.Error(err)
	zap.L().Error("unhandled service error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}

func badRequest(c *gin.Context, description string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": description})
}

// CookieConfig controls the auth cookies.
type CookieConfig struct {
	Secure      bool
	RefreshPath string
}

func (cc CookieConfig) set(c *gin.Context, pair token.Pair) {
	now := time.Now()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   maxAge(pair.AccessExpiresAt, now),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.RefreshCookie,
		Value:    pair.RefreshToken,
		Path:     cc.RefreshPath,
		MaxAge:   maxAge(pair.RefreshExpiresAt, now),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (cc CookieConfig) clear(c *gin.Context) {
	for _, cookie := range []struct{ name, path string }{
		{middleware.AccessCookie, "/"},
		{middleware.RefreshCookie, cc.RefreshPath},
	} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     cookie.name,
			Value:    "",
			Path:     cookie.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cc.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func maxAge(expiresAt, now time.Time) int {
	seconds := int(expiresAt.Sub(now).Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}
