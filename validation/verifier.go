// Package validation authenticates inbound JWT bearer tokens against one or
// more configured issuers and produces a per-request core.ValidationContext.
package validation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	jwt "github.com/golang-jwt/jwt/v5"
)

// KeyResolver resolves an issuer's signing key by kid and algorithm.
type KeyResolver interface {
	ResolveKey(ctx context.Context, issuer, kid, alg string) (any, error)
}

// Verifier checks tokens for a single issuer configuration.
type Verifier struct {
	cfg  core.IssuerConfig
	keys KeyResolver
	now  func() time.Time
}

// NewVerifier builds a verifier. cfg is normalized and must validate.
func NewVerifier(cfg core.IssuerConfig, keys KeyResolver) (*Verifier, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer %q has no issuer identity", core.ErrConfig, cfg.Name)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: key resolver is required", core.ErrConfig)
	}
	return &Verifier{cfg: cfg, keys: keys, now: time.Now}, nil
}

// Config returns the issuer configuration in effect.
func (v *Verifier) Config() core.IssuerConfig { return v.cfg }

// Verify runs, in order: structural parse, key resolution, signature (limited
// to the configured algorithms), standard claims, then required claims. Only
// a token passing every step is returned.
func (v *Verifier) Verify(ctx context.Context, raw string) (*core.JwtToken, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", core.ErrMalformedToken)
	}

	var keyErr error
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithoutClaimsValidation(),
		jwt.WithJSONNumber(),
	)
	parsed, err := parser.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.ResolveKey(ctx, v.cfg.Name, kid, t.Method.Alg())
		if err != nil {
			keyErr = err
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		return nil, classifyParseError(err, keyErr)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", core.ErrMalformedToken)
	}
	if err := v.checkClaims(claims); err != nil {
		return nil, err
	}
	if err := checkRequired(claims, v.cfg.RequiredClaims); err != nil {
		return nil, err
	}
	return core.NewJwtToken(raw, parsed.Header, claims), nil
}

func classifyParseError(err, keyErr error) error {
	switch {
	case keyErr != nil:
		return fmt.Errorf("%w: %w", core.ErrKeyResolution, keyErr)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", core.ErrMalformedToken, err)
	default:
		// Disallowed or unknown algorithms and bad signatures all land here.
		return fmt.Errorf("%w: %v", core.ErrSignatureInvalid, err)
	}
}

func (v *Verifier) checkClaims(claims jwt.MapClaims) error {
	iss, err := claims.GetIssuer()
	if err != nil || iss != v.cfg.Issuer {
		return &core.ClaimsError{Check: "iss", Reason: fmt.Sprintf("got %q, want %q", iss, v.cfg.Issuer)}
	}

	aud, err := claims.GetAudience()
	if err != nil || !intersects(aud, v.cfg.Audiences) {
		return &core.ClaimsError{Check: "aud", Reason: "no accepted audience"}
	}

	now := v.now()
	skew := v.cfg.Skew
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return &core.ClaimsError{Check: "exp", Reason: "missing or invalid"}
	}
	if !now.Before(exp.Add(skew)) {
		return &core.ClaimsError{Check: "exp", Reason: "token is expired"}
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return &core.ClaimsError{Check: "nbf", Reason: "invalid"}
	}
	if nbf != nil && now.Add(skew).Before(nbf.Time) {
		return &core.ClaimsError{Check: "nbf", Reason: "token is not valid yet"}
	}
	return nil
}

func checkRequired(claims jwt.MapClaims, required []core.RequiredClaim) error {
	for _, rc := range required {
		have := core.ClaimStrings(claims[rc.Name])
		if len(have) == 0 {
			if slices.Contains(rc.Values, core.AnyValue) && nonEmpty(claims[rc.Name]) {
				continue
			}
			return fmt.Errorf("%w: %s", core.ErrRequiredClaimMissing, rc.Name)
		}
		if slices.Contains(rc.Values, core.AnyValue) {
			continue
		}
		if !intersects(have, rc.Values) {
			return fmt.Errorf("%w: %s has no accepted value", core.ErrRequiredClaimMissing, rc.Name)
		}
	}
	return nil
}

// nonEmpty accepts non-string scalars (numbers, booleans) and non-empty
// objects or arrays.
func nonEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func intersects(have, wants []string) bool {
	for _, h := range have {
		if slices.Contains(wants, h) {
			return true
		}
	}
	return false
}
