package jwtkit

import (
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	jwt "github.com/golang-jwt/jwt/v5"
)

func parseWith(t *testing.T, token string, pub *rsa.PublicKey) (*jwt.Token, jwt.MapClaims) {
	t.Helper()
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("parse assertion: %v", err)
	}
	return parsed, claims
}

func TestClientAssertion(t *testing.T) {
	signer, err := NewRSASigner(2048, "client-key-1")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	const endpoint = "https://idp.example.com/oauth2/token"
	tok, err := ClientAssertion("client-123", endpoint, signer, 0)
	if err != nil {
		t.Fatalf("assertion: %v", err)
	}

	parsed, claims := parseWith(t, tok, signer.PublicKey())
	if parsed.Header["kid"] != "client-key-1" {
		t.Fatalf("expected kid header, got %v", parsed.Header["kid"])
	}
	if iss, _ := claims.GetIssuer(); iss != "client-123" {
		t.Fatalf("iss = %q", iss)
	}
	if sub, _ := claims.GetSubject(); sub != "client-123" {
		t.Fatalf("sub = %q", sub)
	}
	if aud, _ := claims.GetAudience(); len(aud) != 1 || aud[0] != endpoint {
		t.Fatalf("aud = %v", aud)
	}
	iat, _ := claims.GetIssuedAt()
	exp, _ := claims.GetExpirationTime()
	if got := exp.Sub(iat.Time); got != DefaultAssertionTTL {
		t.Fatalf("lifetime = %v, want %v", got, DefaultAssertionTTL)
	}
	if jti, _ := claims["jti"].(string); jti == "" {
		t.Fatalf("missing jti")
	}
}

func TestClientAssertionFreshJTI(t *testing.T) {
	signer, err := NewRSASigner(2048, "k")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		tok, err := clientAssertionAt(now, "c", "https://idp/token", signer, time.Minute)
		if err != nil {
			t.Fatalf("assertion: %v", err)
		}
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
			t.Fatalf("parse: %v", err)
		}
		jti := claims["jti"].(string)
		if seen[jti] {
			t.Fatalf("jti %q reused", jti)
		}
		seen[jti] = true
	}
}

func TestSignWithoutPrivateKey(t *testing.T) {
	if _, err := NewRSASignerFromKey("k", nil); !errors.Is(err, core.ErrSigning) {
		t.Fatalf("expected ErrSigning, got %v", err)
	}
	full, err := NewRSASigner(2048, "k")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	publicOnly := &rsa.PrivateKey{PublicKey: full.PrivateKey().PublicKey}
	s := &RSASigner{key: publicOnly, kid: "k"}
	if _, err := ClientAssertion("c", "https://idp/token", s, time.Minute); !errors.Is(err, core.ErrSigning) {
		t.Fatalf("expected ErrSigning, got %v", err)
	}
}
