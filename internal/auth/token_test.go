package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("s3cret")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	token, err := issuer.Generate("emp-1", "org-1", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := issuer.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "emp-1" || claims.OrganizationID != "org-1" || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenRejectsExpiredAndForeign(t *testing.T) {
	issuer, _ := NewTokenIssuer("s3cret")
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := issuer.Generate("emp-1", "org-1", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	issuer.now = time.Now
	if _, err := issuer.ParseAndValidate(stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	other, _ := NewTokenIssuer("other")
	foreign, _ := other.Generate("emp-1", "org-1", time.Minute)
	if _, err := issuer.ParseAndValidate(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
	if _, err := NewTokenIssuer("  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
