package service

import (
	"time"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
)

// UserView is the client-facing profile. It never carries credentials.
type UserView struct {
	ID               string        `json:"id"`
	Email            string        `json:"email"`
	Name             string        `json:"name,omitempty"`
	Role             domain.Role   `json:"role"`
	Status           domain.Status `json:"status"`
	IsVerified       bool          `json:"isVerified"`
	TwoFactorEnabled bool          `json:"twoFactorEnabled"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// NewUserView projects a user record.
func NewUserView(u domain.User) UserView {
	return UserView{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		Status:           u.Status,
		IsVerified:       u.IsVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginResult is either a token pair or, for 2FA users, an OTP session token
// to be exchanged at the second step.
type LoginResult struct {
	User              UserView
	Tokens            token.Pair
	TwoFactorRequired bool
	OTPSessionToken   string
}
