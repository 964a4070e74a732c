package core

import (
	"context"
	"sort"
)

// ValidationContext holds the tokens that verified for one inbound request,
// keyed by issuer name. An empty context means no authenticated principal.
type ValidationContext struct {
	tokens map[string]*JwtToken
}

// NewValidationContext builds a read-only context from verified tokens.
func NewValidationContext(tokens map[string]*JwtToken) *ValidationContext {
	m := make(map[string]*JwtToken, len(tokens))
	for k, v := range tokens {
		if v != nil {
			m[k] = v
		}
	}
	return &ValidationContext{tokens: m}
}

// EmptyValidationContext is the unauthenticated outcome.
func EmptyValidationContext() *ValidationContext { return NewValidationContext(nil) }

func (vc *ValidationContext) HasTokenFor(issuer string) bool {
	if vc == nil {
		return false
	}
	_, ok := vc.tokens[issuer]
	return ok
}

func (vc *ValidationContext) HasValidToken() bool { return vc.Len() > 0 }

func (vc *ValidationContext) Len() int {
	if vc == nil {
		return 0
	}
	return len(vc.tokens)
}

// Token returns the verified token for an issuer name.
func (vc *ValidationContext) Token(issuer string) (*JwtToken, bool) {
	if vc == nil {
		return nil, false
	}
	t, ok := vc.tokens[issuer]
	return t, ok
}

// Issuers lists the issuer names with a verified token, sorted.
func (vc *ValidationContext) Issuers() []string {
	if vc == nil {
		return nil
	}
	out := make([]string, 0, len(vc.tokens))
	for k := range vc.tokens {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FirstValidToken returns the token of the lexically first issuer name, so the
// choice is stable across calls.
func (vc *ValidationContext) FirstValidToken() (*JwtToken, bool) {
	names := vc.Issuers()
	if len(names) == 0 {
		return nil, false
	}
	return vc.tokens[names[0]], true
}

type validationCtxKey struct{}

// WithValidationContext attaches a request's ValidationContext to ctx.
func WithValidationContext(ctx context.Context, vc *ValidationContext) context.Context {
	return context.WithValue(ctx, validationCtxKey{}, vc)
}

// ValidationContextFrom reads the request's ValidationContext from ctx.
func ValidationContextFrom(ctx context.Context) (*ValidationContext, bool) {
	vc, ok := ctx.Value(validationCtxKey{}).(*ValidationContext)
	return vc, ok && vc != nil
}
