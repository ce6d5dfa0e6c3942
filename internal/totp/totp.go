// Package totp wraps RFC 6238 code generation and validation with the
// parameters authenticator apps expect: SHA1, six digits, 30 second steps.
package totp

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the length of one time step.
	Period = 30 * time.Second
	// Skew is the number of steps accepted either side of the current one.
	Skew = 1
)

// Enrollment is a freshly generated shared secret.
type Enrollment struct {
	Secret string
	URI    string
}

// Authenticator generates and validates TOTP codes for one issuer.
type Authenticator struct {
	issuer string
}

// New constructs an Authenticator labelling secrets with issuer.
func New(issuer string) *Authenticator {
	return &Authenticator{issuer: issuer}
}

// Generate creates a random base32 secret and its otpauth:// provisioning URI.
func (a *Authenticator) Generate(account string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.issuer,
		AccountName: account,
		Period:      uint(Period / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}
	return Enrollment{Secret: key.Secret(), URI: key.URL()}, nil
}

// Validate reports whether code matches secret at t within the skew window.
func (a *Authenticator) Validate(code, secret string, t time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, t.UTC(), validateOpts())
	return err == nil && ok
}

// Code returns the code for secret at t.
func (a *Authenticator) Code(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t.UTC(), validateOpts())
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// ReplayWindow is how long an accepted code stays usable.
func ReplayWindow() time.Duration {
	return Period * (2*Skew + 1)
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(Period / time.Second),
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
