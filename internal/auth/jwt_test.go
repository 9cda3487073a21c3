package auth

import (
	"errors"
	"testing"
	"time"

	"tycoon/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	s, err := NewSigner("secret")
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}
	tok, err := s.Issue("owner-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	owner, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if owner != "owner-1" {
		t.Fatalf("owner = %q, want owner-1", owner)
	}
}

func TestVerifyRejects(t *testing.T) {
	s, _ := NewSigner("secret")
	other, _ := NewSigner("other")
	foreign, _ := other.Issue("owner-1", time.Hour)

	expired := &Signer{secret: s.secret, now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}
	stale, _ := expired.Issue("owner-1", time.Hour)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "owner-1", Issuer: issuer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", stale},
		{"unsigned", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.token); !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("Verify() err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestIssueRequiresOwner(t *testing.T) {
	s, _ := NewSigner("secret")
	if _, err := s.Issue("  ", time.Hour); err == nil {
		t.Fatalf("expected error for blank owner")
	}
	if _, err := NewSigner(""); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

func TestInspect(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := &Signer{secret: []byte("secret"), now: func() time.Time { return at }}
	tok, _ := s.Issue("owner-1", time.Hour)

	owner, exp, err := Inspect(tok)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if owner != "owner-1" || !exp.Equal(at.Add(time.Hour)) {
		t.Fatalf("Inspect() = %q, %v", owner, exp)
	}

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: issuer}).SignedString([]byte("secret"))
	for _, bad := range []string{"", "not-a-token", noSub} {
		if _, _, err := Inspect(bad); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Inspect(%q) err = %v, want ErrUnauthorized", bad, err)
		}
	}
}
