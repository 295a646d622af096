package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokens("secret", time.Hour)
	issuer.now = func() time.Time { return now }

	tok, err := issuer.Issue(&Account{UID: "uid-1", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "uid-1" || claims.Email != "ann@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	other := NewTokens("other", time.Hour)
	other.now = issuer.now
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify with wrong secret error = %v, want ErrInvalidToken", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := issuer.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify expired error = %v, want ErrInvalidToken", err)
	}

	if _, err := issuer.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify garbage error = %v, want ErrInvalidToken", err)
	}
}
