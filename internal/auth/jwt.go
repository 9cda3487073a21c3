// Package auth issues and verifies owner bearer tokens. The subject claim
// is the owner id.
package auth

import (
	"fmt"
	"strings"
	"time"

	"tycoon/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "tycoon"

type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed token for ownerID valid for ttl.
func (s *Signer) Issue(ownerID string, ttl time.Duration) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", fmt.Errorf("owner id is required")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature and time claims and returns the owner id.
func (s *Signer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return sub, nil
}

// Inspect reads the subject and expiry of token without checking its
// signature. The expiry is zero when the token carries none.
func Inspect(token string) (string, time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", time.Time{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time.UTC()
	}
	return sub, exp, nil
}
