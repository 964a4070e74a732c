// Package clientkit acquires outbound OAuth2 access tokens for configured
// clients and caches them until shortly before they expire.
package clientkit

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	jwtkit "github.com/PaulFidika/tokenkit/jwt"
)

// Wire values for the delegated grants.
const (
	GrantTypeJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	TokenTypeJWT           = "urn:ietf:params:oauth:token-type:jwt"
	TokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
)

// SubjectTokenResolver supplies the inbound token exchanged by delegated
// grants.
type SubjectTokenResolver interface {
	SubjectToken(ctx context.Context) (string, bool)
}

// FormRequest is a token endpoint request ready to be posted.
type FormRequest struct {
	Client   string
	TokenURL string
	Form     url.Values
	// BasicAuth moves client_id/client_secret from Form to the Authorization header.
	BasicAuth bool
	// SubjectToken is the exchanged inbound token; empty for client credentials.
	SubjectToken string
}

// RequestBuilder assembles grant-specific parameters and client
// authentication for a ClientProperties.
type RequestBuilder struct {
	Subjects     SubjectTokenResolver
	AssertionTTL time.Duration
}

// Build returns the request for one token exchange. A client assertion, when
// needed, is minted fresh on every call.
func (b *RequestBuilder) Build(ctx context.Context, p core.ClientProperties) (*FormRequest, error) {
	form := url.Values{}
	req := &FormRequest{Client: p.Name, TokenURL: p.TokenEndpoint, Form: form}

	switch p.GrantType {
	case core.GrantClientCredentials:
		form.Set("grant_type", string(core.GrantClientCredentials))
	case core.GrantOnBehalfOf, core.GrantTokenExchange:
		subject, err := b.subjectToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", p.Name, err)
		}
		req.SubjectToken = subject
		if p.GrantType == core.GrantOnBehalfOf {
			form.Set("grant_type", GrantTypeJWTBearer)
			form.Set("assertion", subject)
			form.Set("requested_token_use", "on_behalf_of")
		} else {
			form.Set("grant_type", GrantTypeTokenExchange)
			form.Set("subject_token", subject)
			form.Set("subject_token_type", TokenTypeJWT)
			form.Set("requested_token_type", TokenTypeAccessToken)
			if p.Audience != "" {
				form.Set("audience", p.Audience)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedGrant, p.GrantType)
	}
	if scope := p.Scope(); scope != "" {
		form.Set("scope", scope)
	}

	if err := b.authenticate(req, p); err != nil {
		return nil, err
	}
	return req, nil
}

func (b *RequestBuilder) subjectToken(ctx context.Context) (string, error) {
	if b.Subjects == nil {
		return "", core.ErrMissingSubjectToken
	}
	tok, ok := b.Subjects.SubjectToken(ctx)
	if !ok || tok == "" {
		return "", core.ErrMissingSubjectToken
	}
	return tok, nil
}

func (b *RequestBuilder) authenticate(req *FormRequest, p core.ClientProperties) error {
	req.Form.Set("client_id", p.ClientID)
	switch p.Auth.Method {
	case core.AuthClientSecretPost:
		req.Form.Set("client_secret", p.Auth.ClientSecret)
	case core.AuthClientSecretBasic:
		req.Form.Set("client_secret", p.Auth.ClientSecret)
		req.BasicAuth = true
	case core.AuthPrivateKeyJWT:
		signer, err := jwtkit.NewRSASignerFromKey(p.Auth.KeyID, p.Auth.PrivateKey)
		if err != nil {
			return err
		}
		ttl := p.Auth.AssertionTTL
		if ttl <= 0 {
			ttl = b.AssertionTTL
		}
		assertion, err := jwtkit.ClientAssertion(p.ClientID, p.TokenEndpoint, signer, ttl)
		if err != nil {
			return fmt.Errorf("client %q: %w", p.Name, err)
		}
		req.Form.Set("client_assertion_type", jwtkit.ClientAssertionType)
		req.Form.Set("client_assertion", assertion)
	default:
		return fmt.Errorf("%w: client %q: unknown auth method %q", core.ErrConfig, p.Name, p.Auth.Method)
	}
	return nil
}
