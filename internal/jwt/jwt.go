package jwt

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
)

var allowedAlgorithms = []gojose.SignatureAlgorithm{gojose.HS256}

// Signer signs and validates one family of tokens with a single keyring.
type Signer struct {
	keys   *Keyring
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a Signer for tokens living ttl.
func NewSigner(keys *Keyring, issuer string, ttl time.Duration) *Signer {
	return &Signer{keys: keys, issuer: issuer, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, mainly for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	clone := *s
	clone.now = now
	return &clone
}

// TTL returns the lifetime of issued tokens.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign produces a compact JWS carrying the registered claims for subject plus
// the custom claims. Every token gets a fresh jti.
func (s *Signer) Sign(subject string, custom any) (string, time.Time, error) {
	active := s.keys.Active()
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: active.Secret}, (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", active.ID))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("new signer: %w", err)
	}

	now := s.now().UTC()
	expiry := now.Add(s.ttl)
	std := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(expiry),
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("serialize jwt: %w", err)
	}
	return token, expiry, nil
}

// Verify checks signature, issuer and expiry and decodes custom claims into
// dest. Expired tokens yield domain.ErrTokenExpired; every other failure is
// domain.ErrInvalidToken.
func (s *Signer) Verify(token string, dest any) (gojwt.Claims, error) {
	parsed, err := gojwt.ParseSigned(token, allowedAlgorithms)
	if err != nil {
		return gojwt.Claims{}, fmt.Errorf("%w: parse: %v", domain.ErrInvalidToken, err)
	}
	if len(parsed.Headers) != 1 {
		return gojwt.Claims{}, fmt.Errorf("%w: unexpected signature count", domain.ErrInvalidToken)
	}
	secret, ok := s.keys.Lookup(parsed.Headers[0].KeyID)
	if !ok {
		return gojwt.Claims{}, fmt.Errorf("%w: unknown key id %q", domain.ErrInvalidToken, parsed.Headers[0].KeyID)
	}

	var std gojwt.Claims
	if err := parsed.Claims(secret, &std, dest); err != nil {
		return gojwt.Claims{}, fmt.Errorf("%w: verify: %v", domain.ErrInvalidToken, err)
	}
	if err := std.ValidateWithLeeway(gojwt.Expected{Issuer: s.issuer, Time: s.now()}, 0); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return std, domain.ErrTokenExpired
		}
		return gojwt.Claims{}, fmt.Errorf("%w: claims: %v", domain.ErrInvalidToken, err)
	}
	return std, nil
}

// Remaining reports how long a token with the given claims stays valid.
func (s *Signer) Remaining(std gojwt.Claims) time.Duration {
	if std.Expiry == nil {
		return 0
	}
	return std.Expiry.Time().Sub(s.now())
}
