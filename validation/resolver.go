package validation

import (
	"context"

	"github.com/PaulFidika/tokenkit/core"
)

// ContextTokenResolver sources the subject token for delegated grants from the
// ValidationContext attached to the request context.
type ContextTokenResolver struct {
	// Issuer picks the token of one issuer; empty takes the first valid token.
	Issuer string
}

// SubjectToken returns the raw inbound token, if the request has one.
func (r ContextTokenResolver) SubjectToken(ctx context.Context) (string, bool) {
	vc, ok := core.ValidationContextFrom(ctx)
	if !ok {
		return "", false
	}
	var tok *core.JwtToken
	if r.Issuer != "" {
		tok, ok = vc.Token(r.Issuer)
	} else {
		tok, ok = vc.FirstValidToken()
	}
	if !ok || tok == nil {
		return "", false
	}
	return tok.Raw(), true
}
