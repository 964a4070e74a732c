package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SelectionPolicy decides which issuer configurations a token is checked
// against when the caller does not name one.
type SelectionPolicy string

const (
	// SelectByIssuerClaim verifies against every configuration whose issuer
	// identity equals the token's own "iss" claim.
	SelectByIssuerClaim SelectionPolicy = "issuer_claim"
	// SelectAllIssuers verifies against every configured issuer.
	SelectAllIssuers SelectionPolicy = "all"
	// SelectDefaultIssuer verifies only against AcceptConfig.DefaultIssuer.
	SelectDefaultIssuer SelectionPolicy = "default"
)

// AnyValue accepts any non-empty claim value in a RequiredClaim.
const AnyValue = "*"

// AcceptConfig configures verification of third-party JWTs (verify-only mode).
type AcceptConfig struct {
	Issuers       []IssuerConfig
	Selection     SelectionPolicy
	DefaultIssuer string
}

// IssuerConfig describes how to accept tokens from a specific issuer.
type IssuerConfig struct {
	// Name is the unique key of this configuration in a ValidationContext.
	Name string
	// Issuer is the expected "iss" claim. Taken from discovery when empty.
	Issuer       string
	DiscoveryURL string
	JWKSURL      string
	// Audiences accepted for this service; the token's "aud" must intersect.
	Audiences  []string
	Algorithms []string
	Skew       time.Duration
	// RequiredClaims are evaluated after all standard checks pass.
	RequiredClaims []RequiredClaim
}

// RequiredClaim demands that a claim equals (or, for arrays, contains) one of
// Values. A single AnyValue entry accepts any non-empty value.
type RequiredClaim struct {
	Name   string
	Values []string
}

// DefaultAlgorithms is used when an IssuerConfig lists none.
var DefaultAlgorithms = []string{"RS256"}

// Normalize returns a copy with defaults applied.
func (c IssuerConfig) Normalize() IssuerConfig {
	out := c
	out.Name = strings.TrimSpace(out.Name)
	out.Issuer = strings.TrimSpace(out.Issuer)
	if len(out.Algorithms) == 0 {
		out.Algorithms = append([]string(nil), DefaultAlgorithms...)
	} else {
		out.Algorithms = append([]string(nil), out.Algorithms...)
	}
	out.Audiences = append([]string(nil), out.Audiences...)
	out.RequiredClaims = append([]RequiredClaim(nil), out.RequiredClaims...)
	if out.Skew < 0 {
		out.Skew = 0
	}
	return out
}

// Validate reports configuration errors for a single issuer.
func (c IssuerConfig) Validate() error {
	if c.Name == "" {
		return configErr("issuer name is required")
	}
	if c.DiscoveryURL == "" && c.JWKSURL == "" {
		return configErr("issuer %q: discovery url or jwks url is required", c.Name)
	}
	if c.DiscoveryURL == "" && c.Issuer == "" {
		return configErr("issuer %q: issuer identity is required without discovery", c.Name)
	}
	if len(c.Audiences) == 0 {
		return configErr("issuer %q: at least one audience is required", c.Name)
	}
	for _, alg := range c.Algorithms {
		if strings.EqualFold(alg, "none") {
			return configErr("issuer %q: algorithm none is not allowed", c.Name)
		}
	}
	for _, rc := range c.RequiredClaims {
		if rc.Name == "" || len(rc.Values) == 0 {
			return configErr("issuer %q: required claim needs a name and values", c.Name)
		}
	}
	return nil
}

// Validate checks the whole accept configuration, including name uniqueness
// and the selection policy.
func (c AcceptConfig) Validate() error {
	if len(c.Issuers) == 0 {
		return configErr("at least one issuer is required")
	}
	seen := make(map[string]struct{}, len(c.Issuers))
	var errs []error
	for _, iss := range c.Issuers {
		iss = iss.Normalize()
		if err := iss.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[iss.Name]; dup {
			errs = append(errs, configErr("duplicate issuer name %q", iss.Name))
		}
		seen[iss.Name] = struct{}{}
	}
	switch c.Selection {
	case "", SelectByIssuerClaim, SelectAllIssuers:
	case SelectDefaultIssuer:
		if _, ok := seen[c.DefaultIssuer]; !ok {
			errs = append(errs, configErr("default issuer %q is not configured", c.DefaultIssuer))
		}
	default:
		errs = append(errs, configErr("unknown selection policy %q", c.Selection))
	}
	return errors.Join(errs...)
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
