package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestValidationContext(t *testing.T) {
	a := NewJwtToken("raw-a", map[string]any{"alg": "RS256", "kid": "k1"}, map[string]any{"sub": "alice", "iss": "https://a"})
	b := NewJwtToken("raw-b", nil, map[string]any{"sub": "bob"})
	vc := NewValidationContext(map[string]*JwtToken{"iss-b": b, "iss-a": a, "iss-c": nil})

	if vc.Len() != 2 || !vc.HasValidToken() {
		t.Fatalf("expected two tokens, got %d", vc.Len())
	}
	if !vc.HasTokenFor("iss-a") || vc.HasTokenFor("iss-c") {
		t.Fatalf("unexpected HasTokenFor results")
	}
	if got := vc.Issuers(); len(got) != 2 || got[0] != "iss-a" || got[1] != "iss-b" {
		t.Fatalf("issuers should be sorted, got %v", got)
	}
	first, ok := vc.FirstValidToken()
	if !ok || first.Subject() != "alice" {
		t.Fatalf("first valid token should be deterministic, got %v", first)
	}
	if tok, _ := vc.Token("iss-a"); tok.KeyID() != "k1" || tok.Algorithm() != "RS256" {
		t.Fatalf("unexpected header accessors")
	}

	empty := EmptyValidationContext()
	if empty.HasValidToken() {
		t.Fatalf("empty context has no valid token")
	}
	var nilCtx *ValidationContext
	if nilCtx.HasValidToken() || nilCtx.HasTokenFor("iss-a") {
		t.Fatalf("nil context must be safe and empty")
	}
}

func TestValidationContextOnContext(t *testing.T) {
	if _, ok := ValidationContextFrom(context.Background()); ok {
		t.Fatalf("expected no context")
	}
	vc := EmptyValidationContext()
	got, ok := ValidationContextFrom(WithValidationContext(context.Background(), vc))
	if !ok || got != vc {
		t.Fatalf("expected the stored context back")
	}
}

func TestJwtTokenClaims(t *testing.T) {
	exp := time.Unix(1_700_000_000, 0)
	claims := map[string]any{
		"aud":   []any{"aud-a", "aud-b"},
		"exp":   json.Number("1700000000"),
		"iat":   float64(1_699_999_000),
		"roles": "admin",
	}
	tok := NewJwtToken("raw", nil, claims)
	claims["roles"] = "mutated"

	if got := tok.Audience(); len(got) != 2 || got[1] != "aud-b" {
		t.Fatalf("unexpected audience %v", got)
	}
	if !tok.ExpiresAt().Equal(exp) {
		t.Fatalf("unexpected exp %v", tok.ExpiresAt())
	}
	if tok.IssuedAt().IsZero() || !tok.NotBefore().IsZero() {
		t.Fatalf("unexpected iat/nbf")
	}
	if tok.StringClaim("roles") != "admin" {
		t.Fatalf("token must not see later mutation of its input")
	}
	copyClaims := tok.Claims()
	copyClaims["roles"] = "changed"
	if tok.StringClaim("roles") != "admin" {
		t.Fatalf("Claims must return a copy")
	}
}
