package domain

import "time"

// Role is the authorization role encoded into access tokens.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Status tracks where a registration sits in its saga.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusFailed  Status = "FAILED"
)

// User represents an identity record owned by the auth service.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	Name             string
	Role             Role
	Status           Status
	IsVerified       bool
	TwoFactorEnabled bool
	// TwoFactorSecret holds the sealed TOTP secret, never the plaintext.
	TwoFactorSecret *string
	TokenVersion    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TwoFactorState derives the enrollment state from the persisted columns.
func (u User) TwoFactorState() TwoFactorState {
	switch {
	case u.TwoFactorEnabled:
		return TwoFactorEnabled
	case u.TwoFactorSecret != nil && *u.TwoFactorSecret != "":
		return TwoFactorEnrolling
	default:
		return TwoFactorDisabled
	}
}

// TwoFactorState is the per-user 2FA enrollment state.
type TwoFactorState string

const (
	TwoFactorDisabled  TwoFactorState = "DISABLED"
	TwoFactorEnrolling TwoFactorState = "ENROLLING"
	TwoFactorEnabled   TwoFactorState = "ENABLED"
)
