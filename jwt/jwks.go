package jwtkit

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// PublicJWK describes an RSA verification key for publication. "use" is
// always "sig"; kid and alg are set when non-empty so a verifier can select
// the key from the assertion header alone.
func PublicJWK(pub *rsa.PublicKey, kid, alg string) (jwk.Key, error) {
	k, err := jwk.FromRaw(pub)
	if err != nil {
		return nil, fmt.Errorf("jwk from public key: %w", err)
	}
	if err := k.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}
	if kid != "" {
		if err := k.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
	}
	if alg != "" {
		if err := k.Set(jwk.AlgorithmKey, jwa.SignatureAlgorithm(alg)); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// NewJWKS builds a key set ordered by kid, so the document and its ETag
// only change when the keys do.
func NewJWKS(pubs map[string]*rsa.PublicKey, alg string) (jwk.Set, error) {
	kids := make([]string, 0, len(pubs))
	for kid := range pubs {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	set := jwk.NewSet()
	for _, kid := range kids {
		k, err := PublicJWK(pubs[kid], kid, alg)
		if err != nil {
			return nil, fmt.Errorf("kid %q: %w", kid, err)
		}
		if err := set.AddKey(k); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// ServeJWKS writes the set as JSON with a content ETag and answers
// conditional GETs with 304.
func ServeJWKS(w http.ResponseWriter, r *http.Request, set jwk.Set) {
	b, err := json.Marshal(set)
	if err != nil {
		http.Error(w, "jwks unavailable", http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}

// etagMatches handles the list form and weak validators of If-None-Match.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
