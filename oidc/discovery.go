package oidckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PaulFidika/tokenkit/core"
)

const wellKnownPath = "/.well-known/openid-configuration"

// DiscoveryDocument is the subset of provider metadata the validation core uses.
type DiscoveryDocument struct {
	Issuer                string   `json:"issuer"`
	JWKSURI               string   `json:"jwks_uri"`
	TokenEndpoint         string   `json:"token_endpoint,omitempty"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthAlgs []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
}

// Discover fetches provider metadata. discoveryURL may be the issuer base URL
// or the full .well-known URL. Failures are configuration errors.
func Discover(ctx context.Context, client *http.Client, discoveryURL string) (*DiscoveryDocument, error) {
	base := strings.TrimRight(strings.TrimSpace(discoveryURL), "/")
	if base == "" {
		return nil, errors.New("oidc: discovery url is empty")
	}
	u := base
	if !strings.HasSuffix(base, wellKnownPath) {
		u = base + wellKnownPath
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: oidc discovery: %v", core.ErrConfig, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: oidc discovery: %v", core.ErrConfig, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: oidc discovery failed: %s", core.ErrConfig, resp.Status)
	}
	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: oidc discovery: %v", core.ErrConfig, err)
	}
	if doc.Issuer == "" || doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: oidc discovery missing issuer or jwks_uri", core.ErrConfig)
	}
	return &doc, nil
}
