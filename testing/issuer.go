// Package testing provides utilities for testing applications that use tokenkit.
// It provides a mock issuer that serves discovery and JWKS and can sign tokens,
// and a mock OAuth2 token endpoint, enabling integration tests without a real
// authorization server.
//
// Example usage:
//
//	issuer := tokentest.NewTestIssuer()
//	defer issuer.Close()
//
//	cfg := core.AcceptConfig{Issuers: []core.IssuerConfig{issuer.IssuerConfig("idp")}}
//	token := issuer.CreateToken("user-123")
package testing

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	jwtkit "github.com/PaulFidika/tokenkit/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

// TestIssuer runs an HTTP server that serves OIDC discovery at
// /.well-known/openid-configuration and JWKS at /.well-known/jwks.json, and
// signs JWTs that validate against that JWKS.
type TestIssuer struct {
	server   *httptest.Server
	audience string
	fetches  atomic.Int64

	mu        sync.Mutex
	signer    *jwtkit.RSASigner
	published map[string]*jwtkit.RSASigner
	failJWKS  bool
}

// NewTestIssuer creates a test issuer with audience "test-app".
// Call Close() when done to shut down the test server.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-app")
}

// NewTestIssuerWithAudience creates a test issuer with a specific audience claim.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	signer := mustSigner("test-key-1")
	ti := &TestIssuer{
		signer:    signer,
		audience:  audience,
		published: map[string]*jwtkit.RSASigner{signer.KID(): signer},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", ti.handleJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", ti.handleDiscovery)

	ti.server = httptest.NewServer(mux)
	return ti
}

func mustSigner(kid string) *jwtkit.RSASigner {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	return signer
}

// URL returns the base URL of the test issuer server. It is also the "iss"
// claim of every token the issuer creates.
func (ti *TestIssuer) URL() string {
	return ti.server.URL
}

// JWKSURL returns the key set endpoint.
func (ti *TestIssuer) JWKSURL() string {
	return ti.server.URL + "/.well-known/jwks.json"
}

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string {
	return ti.audience
}

// Client returns an HTTP client for the test server.
func (ti *TestIssuer) Client() *http.Client {
	return ti.server.Client()
}

// IssuerConfig returns an accept configuration for this issuer under name.
func (ti *TestIssuer) IssuerConfig(name string) core.IssuerConfig {
	return core.IssuerConfig{
		Name:      name,
		Issuer:    ti.URL(),
		JWKSURL:   ti.JWKSURL(),
		Audiences: []string{ti.audience},
	}
}

// JWKSFetches counts JWKS requests served so far.
func (ti *TestIssuer) JWKSFetches() int {
	return int(ti.fetches.Load())
}

// FailJWKS makes the JWKS endpoint answer 500 until called with false.
func (ti *TestIssuer) FailJWKS(fail bool) {
	ti.mu.Lock()
	ti.failJWKS = fail
	ti.mu.Unlock()
}

// RotateKey starts signing with a new key published under kid. When
// keepOld is false the previous key disappears from the JWKS.
func (ti *TestIssuer) RotateKey(kid string, keepOld bool) {
	next := mustSigner(kid)
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if !keepOld {
		ti.published = map[string]*jwtkit.RSASigner{}
	}
	ti.published[kid] = next
	ti.signer = next
}

// Signer returns the key tokens are currently signed with.
func (ti *TestIssuer) Signer() *jwtkit.RSASigner {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.signer
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.fetches.Add(1)
	ti.mu.Lock()
	fail := ti.failJWKS
	pubs := make(map[string]*rsa.PublicKey, len(ti.published))
	for kid, s := range ti.published {
		pubs[kid] = s.PublicKey()
	}
	ti.mu.Unlock()
	if fail {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	set, err := jwtkit.NewJWKS(pubs, jwt.SigningMethodRS256.Alg())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jwtkit.ServeJWKS(w, r, set)
}

func (ti *TestIssuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                ti.URL(),
		"jwks_uri":                              ti.JWKSURL(),
		"token_endpoint":                        ti.URL() + "/token",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

// CreateToken creates a signed JWT for subject, valid for an hour.
func (ti *TestIssuer) CreateToken(subject string) string {
	return ti.CreateTokenWithClaims(subject, nil)
}

// CreateTokenWithClaims creates a signed JWT with additional custom claims.
// The custom claims override the standard ones (sub, iss, aud, exp, iat, jti);
// a nil value removes the claim.
func (ti *TestIssuer) CreateTokenWithClaims(subject string, extraClaims map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"aud": ti.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	for k, v := range extraClaims {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return ti.Sign(claims)
}

// CreateTokenWithExpiry creates a signed JWT with a custom expiry time.
func (ti *TestIssuer) CreateTokenWithExpiry(subject string, expiry time.Time) string {
	return ti.CreateTokenWithClaims(subject, map[string]any{"exp": expiry.Unix()})
}

// CreateExpiredToken creates a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(subject string) string {
	return ti.CreateTokenWithExpiry(subject, time.Now().Add(-time.Hour))
}

// Sign signs claims verbatim with the current key.
func (ti *TestIssuer) Sign(claims jwt.MapClaims) string {
	token, err := ti.Signer().Sign(claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}
