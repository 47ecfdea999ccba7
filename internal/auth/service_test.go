package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	s := &service{secret: []byte("testsecret")}
	neighborID := uuid.New()

	tok, err := s.issueToken(neighborID)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	got, err := s.ValidateToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got != neighborID {
		t.Errorf("expected %s, got %s", neighborID, got)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := &service{secret: []byte("one")}
	verifier := &service{secret: []byte("two")}

	tok, err := issuer.issueToken(uuid.New())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := verifier.ValidateToken(context.Background(), tok); err == nil {
		t.Fatal("expected error for token signed with a different secret")
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	s := &service{secret: []byte("testsecret")}
	if _, err := s.ValidateToken(context.Background(), "not.a.jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	s := &service{secret: []byte("testsecret")}

	c := jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.ValidateToken(context.Background(), tok); err == nil {
		t.Fatal("expected error for expired token")
	}
}
