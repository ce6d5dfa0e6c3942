package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/http/middleware"
)

// VerifyEmail consumes the token from the verification link.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	verificationToken := c.Query("token")
	if verificationToken == "" {
		badRequest(c, "Verification token is required.")
		return
	}
	if err := h.Auth.VerifyEmail(c.Request.Context(), verificationToken); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified successfully."})
}

// ForgotPassword always answers the same way so accounts cannot be probed.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "A valid email is required to reset your password.")
		return
	}
	if err := h.Auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If a user with that email exists, a password reset link has been sent."})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Reset token and a new password of at least 8 characters are required.")
		return
	}
	if err := h.Auth.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset successfully."})
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing access token claims."})
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		NewPassword     string `json:"newPassword" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Current password and a new password of at least 8 characters are required.")
		return
	}
	if err := h.Auth.ChangePassword(c.Request.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	h.Cookies.clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully. Please log in again."})
}

// TwoFactorSetup starts enrollment and returns the provisioning URI.
func (h *AuthHandler) TwoFactorSetup(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing access token claims."})
		return
	}
	enrollment, err := h.TwoFactor.BeginEnrollment(c.Request.Context(), claims.UserID, claims.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provisioningUri": enrollment.ProvisioningURI})
}

// TwoFactorVerify confirms enrollment with a first code.
func (h *AuthHandler) TwoFactorVerify(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Missing access token claims."})
		return
	}
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required.")
		return
	}
	enabled, err := h.TwoFactor.ConfirmEnrollment(c.Request.Context(), claims.UserID, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	if !enabled {
		respondError(c, domain.ErrInvalidOtpCode)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Two-factor authentication enabled.", "twoFactorEnabled": true})
}
