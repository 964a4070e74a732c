package core

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"
)

// GrantType names the OAuth2 exchange used to obtain an access token.
type GrantType string

const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantOnBehalfOf        GrantType = "on_behalf_of"
	GrantTokenExchange     GrantType = "token_exchange"
)

// Delegated reports whether the grant exchanges an inbound subject token.
func (g GrantType) Delegated() bool {
	return g == GrantOnBehalfOf || g == GrantTokenExchange
}

// AuthMethod is the client authentication method at the token endpoint.
type AuthMethod string

const (
	AuthClientSecretPost  AuthMethod = "client_secret_post"
	AuthClientSecretBasic AuthMethod = "client_secret_basic"
	AuthPrivateKeyJWT     AuthMethod = "private_key_jwt"
)

// ClientProperties is loaded once at startup and shared read-only.
type ClientProperties struct {
	// Name keys the client in the token service and its cache.
	Name          string
	ClientID      string
	GrantType     GrantType
	TokenEndpoint string
	Scopes        []string
	// Audience is sent with token-exchange requests.
	Audience string
	Auth     ClientAuth
	Cache    ClientCache
}

// ClientAuth carries either a shared secret or an RSA key for private-key-JWT.
type ClientAuth struct {
	Method       AuthMethod
	ClientSecret string
	KeyID        string
	PrivateKey   *rsa.PrivateKey
	// AssertionTTL defaults to 60s.
	AssertionTTL time.Duration
}

// ClientCache controls response caching for one client.
type ClientCache struct {
	Enabled bool
	// Skew is subtracted from expires_in before caching. Nil falls back to
	// the service default; a zero value caches for the full lifetime.
	Skew *time.Duration
}

// SkewOr returns the client's skew, or def when the client sets none.
func (c ClientCache) SkewOr(def time.Duration) time.Duration {
	if c.Skew == nil {
		return def
	}
	return *c.Skew
}

// Scope joins scopes with spaces as sent on the wire.
func (p ClientProperties) Scope() string { return strings.Join(p.Scopes, " ") }

// Validate reports startup configuration errors for a client.
func (p ClientProperties) Validate() error {
	if p.Name == "" {
		return configErr("client name is required")
	}
	if p.ClientID == "" {
		return configErr("client %q: client id is required", p.Name)
	}
	if p.TokenEndpoint == "" {
		return configErr("client %q: token endpoint is required", p.Name)
	}
	switch p.GrantType {
	case GrantClientCredentials, GrantOnBehalfOf, GrantTokenExchange:
	default:
		return fmt.Errorf("%w: client %q: %q", ErrUnsupportedGrant, p.Name, p.GrantType)
	}
	switch p.Auth.Method {
	case AuthClientSecretPost, AuthClientSecretBasic:
		if p.Auth.ClientSecret == "" {
			return configErr("client %q: client secret is required", p.Name)
		}
	case AuthPrivateKeyJWT:
		if p.Auth.PrivateKey == nil {
			return configErr("client %q: private key is required for private_key_jwt", p.Name)
		}
	default:
		return configErr("client %q: unknown auth method %q", p.Name, p.Auth.Method)
	}
	if p.Cache.Skew != nil && *p.Cache.Skew < 0 {
		return configErr("client %q: negative cache skew", p.Name)
	}
	return nil
}

// AccessTokenResponse is the result of a single token endpoint exchange.
type AccessTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"` // seconds, relative to issuance
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	// Expiry is when the service stops handing this token out: acquisition
	// time plus the cache TTL. Zero when the endpoint sent no lifetime.
	Expiry time.Time `json:"expiry,omitempty"`
}
