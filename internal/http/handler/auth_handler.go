package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sanglm2207/my-microservices-app/internal/http/middleware"
	"github.com/Sanglm2207/my-microservices-app/internal/service"
	"github.com/Sanglm2207/my-microservices-app/internal/service/twofactor"
)

// AuthHandler serves the credential and session endpoints.
type AuthHandler struct {
	Auth      *service.AuthService
	TwoFactor *twofactor.Service
	Cookies   CookieConfig
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, twoFactor *twofactor.Service, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{Auth: auth, TwoFactor: twoFactor, Cookies: cookies}
}

type sessionResponse struct {
	Message              string           `json:"message"`
	User                 service.UserView `json:"user"`
	AccessToken          string           `json:"accessToken"`
	AccessTokenExpiresAt time.Time        `json:"accessTokenExpiresAt"`
}

func (h *AuthHandler) startSession(c *gin.Context, message string, result service.LoginResult) {
	h.Cookies.set(c, result.Tokens)
	c.JSON(http.StatusOK, sessionResponse{
		Message:              message,
		User:                 result.User,
		AccessToken:          result.Tokens.AccessToken,
		AccessTokenExpiresAt: result.Tokens.AccessExpiresAt,
	})
}

// Register accepts the registration and returns before the saga resolves.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "A valid email and a password of at least 8 characters are required.")
		return
	}

	user, err := h.Auth.Register(c.Request.Context(), service.RegisterInput{Email: req.Email, Password: req.Password, Name: req.Name})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully. Please check your email to verify your account.", "user": user})
}

// Login runs the password step. 2FA users receive an OTP session token
// instead of cookies.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email and password are required.")
		return
	}

	result, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.TwoFactorRequired {
		c.JSON(http.StatusOK, gin.H{
			"message":           "Two-factor authentication required.",
			"twoFactorRequired": true,
			"otpSessionToken":   result.OTPSessionToken,
		})
		return
	}
	h.startSession(c, "Logged in successfully.", result)
}

// LoginTwoFactor completes a login with the OTP session token and a TOTP code.
func (h *AuthHandler) LoginTwoFactor(c *gin.Context) {
	var req struct {
		OTPSessionToken string `json:"otpSessionToken" binding:"required"`
		Code            string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "otpSessionToken and code are required.")
		return
	}

	result, err := h.Auth.CompleteTwoFactorLogin(c.Request.Context(), req.OTPSessionToken, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	h.startSession(c, "Logged in successfully.", result)
}

// Refresh rotates the refresh token from the cookie or the request body.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw := refreshToken(c)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Refresh token not found."})
		return
	}

	result, err := h.Auth.Refresh(c.Request.Context(), raw)
	if err != nil {
		h.Cookies.clear(c)
		respondError(c, err)
		return
	}
	h.startSession(c, "Tokens refreshed successfully.", result)
}

// Logout revokes the refresh token when present and clears both cookies.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.Auth.Logout(c.Request.Context(), refreshToken(c)); err != nil {
		_ = c.Error(err)
	}
	h.Cookies.clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully."})
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing access token claims."})
		return
	}
	user, err := h.Auth.Me(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// RevokeSessions signs the caller out everywhere.
func (h *AuthHandler) RevokeSessions(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing access token claims."})
		return
	}
	if err := h.Auth.RevokeAllSessions(c.Request.Context(), claims.UserID); err != nil {
		respondError(c, err)
		return
	}
	h.Cookies.clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "All sessions revoked."})
}

// AdminRevokeSessions signs another user out everywhere.
func (h *AuthHandler) AdminRevokeSessions(c *gin.Context) {
	if err := h.Auth.RevokeAllSessions(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User sessions revoked."})
}

// InternalUser serves other services on the private network.
func (h *AuthHandler) InternalUser(c *gin.Context) {
	user, err := h.Auth.Me(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Health is the liveness probe.
func (h *AuthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func refreshToken(c *gin.Context) string {
	if cookie, err := c.Cookie(middleware.RefreshCookie); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie)
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&body)
	}
	return strings.TrimSpace(body.RefreshToken)
}
