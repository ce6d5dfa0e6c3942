package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
)

const (
	accessClaimsKey = "accessClaims"

	// AccessCookie carries the access token for browser clients.
	AccessCookie = "access_token"
	// RefreshCookie carries the refresh token, scoped to the refresh path.
	RefreshCookie = "refresh_token"
)

// AccessVerifier is the part of the token manager the middleware needs.
type AccessVerifier interface {
	VerifyAccessToken(token string) (token.AccessClaims, error)
}

// Auth validates access tokens and attaches their claims.
type Auth struct {
	Tokens AccessVerifier
}

// Authenticate accepts the access token cookie or an Authorization bearer
// header, in that order.
func (m *Auth) Authenticate(c *gin.Context) {
	raw := accessToken(c)
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Access token required."})
		return
	}
	claims, err := m.Tokens.VerifyAccessToken(raw)
	if err != nil {
		description := "Invalid access token."
		if errors.Is(err, domain.ErrTokenExpired) {
			description = "Access token expired."
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": description})
		return
	}
	c.Set(accessClaimsKey, claims)
	c.Next()
}

// RequireTwoFactor rejects tokens of 2FA users that have not completed the
// second step. Must run after Authenticate.
func RequireTwoFactor(c *gin.Context) {
	claims, ok := GetAccessClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Access token required."})
		return
	}
	if !claims.IsTwoFactorAuthenticated {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":             "two_factor_required",
			"error_description": "Two-factor authentication is required to access this resource.",
			"twoFactorRequired": true,
		})
		return
	}
	c.Next()
}

// RequireRole admits only the listed roles. Must run after Authenticate.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetAccessClaims(c)
		if !ok || claims.Role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "error_description": "No role information."})
			return
		}
		if !slices.Contains(roles, claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "error_description": "Insufficient permissions."})
			return
		}
		c.Next()
	}
}

// GetAccessClaims exposes the verified access token claims to handlers.
func GetAccessClaims(c *gin.Context) (token.AccessClaims, bool) {
	value, ok := c.Get(accessClaimsKey)
	if !ok {
		return token.AccessClaims{}, false
	}
	claims, ok := value.(token.AccessClaims)
	return claims, ok
}

func accessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessCookie); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie)
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
