package core

import (
	"encoding/json"
	"maps"
	"math"
	"time"
)

// JwtToken is a verified token: the original compact string plus its decoded
// header and claims. It is never mutated after construction.
type JwtToken struct {
	raw    string
	header map[string]any
	claims map[string]any
}

// NewJwtToken copies header and claims so later changes to the inputs are not
// observed through the token.
func NewJwtToken(raw string, header, claims map[string]any) *JwtToken {
	return &JwtToken{raw: raw, header: maps.Clone(header), claims: maps.Clone(claims)}
}

// Raw returns the encoded compact serialization.
func (t *JwtToken) Raw() string { return t.raw }

func (t *JwtToken) Subject() string { return t.StringClaim("sub") }
func (t *JwtToken) Issuer() string  { return t.StringClaim("iss") }
func (t *JwtToken) ID() string      { return t.StringClaim("jti") }

// KeyID returns the "kid" header, if any.
func (t *JwtToken) KeyID() string {
	s, _ := t.header["kid"].(string)
	return s
}

// Algorithm returns the "alg" header.
func (t *JwtToken) Algorithm() string {
	s, _ := t.header["alg"].(string)
	return s
}

// Audience returns "aud" as a list, whether it was encoded as a string or an
// array.
func (t *JwtToken) Audience() []string { return t.StringsClaim("aud") }

func (t *JwtToken) ExpiresAt() time.Time { return t.TimeClaim("exp") }
func (t *JwtToken) IssuedAt() time.Time  { return t.TimeClaim("iat") }
func (t *JwtToken) NotBefore() time.Time { return t.TimeClaim("nbf") }

// Claim looks up a claim by name.
func (t *JwtToken) Claim(name string) (any, bool) {
	v, ok := t.claims[name]
	return v, ok
}

// StringClaim returns a string claim, or "" if absent or of another type.
func (t *JwtToken) StringClaim(name string) string {
	s, _ := t.claims[name].(string)
	return s
}

// StringsClaim returns a claim that may be a single string or an array of
// strings. Non-string array members are skipped.
func (t *JwtToken) StringsClaim(name string) []string {
	return ClaimStrings(t.claims[name])
}

// TimeClaim interprets a NumericDate claim. Zero if absent or not numeric.
func (t *JwtToken) TimeClaim(name string) time.Time {
	f, ok := numeric(t.claims[name])
	if !ok {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Claims returns a shallow copy of the claim set.
func (t *JwtToken) Claims() map[string]any { return maps.Clone(t.claims) }

// Header returns a shallow copy of the JOSE header.
func (t *JwtToken) Header() map[string]any { return maps.Clone(t.header) }

// ClaimStrings normalizes a string-or-array claim value.
func ClaimStrings(v any) []string {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
