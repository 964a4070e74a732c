package jwtkit

import (
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClientAssertionType is the RFC 7523 client_assertion_type value.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// DefaultAssertionTTL is used when ttl <= 0.
const DefaultAssertionTTL = 60 * time.Second

// ClientAssertion mints a short-lived JWT asserting the client's identity to
// a token endpoint (private_key_jwt). Every call yields a fresh jti, so the
// result must not be cached or reused.
func ClientAssertion(clientID, audience string, signer *RSASigner, ttl time.Duration) (string, error) {
	return clientAssertionAt(time.Now(), clientID, audience, signer, ttl)
}

func clientAssertionAt(now time.Time, clientID, audience string, signer *RSASigner, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}
	claims := jwt.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": audience,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	return signer.Sign(claims)
}
