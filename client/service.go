package clientkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// RateLimiter bounds token endpoint calls; matches the limiters under ratelimit/.
type RateLimiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

// BucketTokenEndpoint is the limiter bucket used for token endpoint calls.
const BucketTokenEndpoint = "token_endpoint"

// Service hands out access tokens for configured clients.
type Service struct {
	clients     map[string]core.ClientProperties
	builder     *RequestBuilder
	requester   Requester
	cache       *TokenCache
	limiter     RateLimiter
	events      core.AuthEventLogger
	defaultSkew time.Duration
	log         logrus.FieldLogger
}

// Config wires a Service. Store defaults to nothing cached even for clients
// that enable caching, so callers normally pass memorystore or redisstore.
type Config struct {
	Clients      []core.ClientProperties
	Requester    Requester
	Store        TokenStore
	Subjects     SubjectTokenResolver
	Limiter      RateLimiter
	Events       core.AuthEventLogger
	DefaultSkew  time.Duration
	AssertionTTL time.Duration
	Logger       logrus.FieldLogger
}

// NewService validates every client. Errors are configuration errors.
func NewService(cfg Config) (*Service, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		clients:     make(map[string]core.ClientProperties, len(cfg.Clients)),
		builder:     &RequestBuilder{Subjects: cfg.Subjects, AssertionTTL: cfg.AssertionTTL},
		requester:   cfg.Requester,
		limiter:     cfg.Limiter,
		events:      cfg.Events,
		defaultSkew: cfg.DefaultSkew,
		log:         log,
	}
	if s.requester == nil {
		s.requester = OAuth2Requester{}
	}
	for _, p := range cfg.Clients {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.clients[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate client %q", core.ErrConfig, p.Name)
		}
		p.Scopes = append([]string(nil), p.Scopes...)
		if p.Cache.Skew != nil {
			skew := *p.Cache.Skew
			p.Cache.Skew = &skew
		}
		s.clients[p.Name] = p
		if p.Cache.Enabled && cfg.Store == nil {
			return nil, fmt.Errorf("%w: client %q enables caching but no token store is configured", core.ErrConfig, p.Name)
		}
	}
	if cfg.Store != nil {
		s.cache = NewTokenCache(cfg.Store, log)
	}
	return s, nil
}

// Token returns a valid access token for the named client.
func (s *Service) Token(ctx context.Context, clientName string) (string, error) {
	resp, err := s.TokenResponse(ctx, clientName)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// TokenResponse returns the full token endpoint response, from cache when the
// client enables caching.
func (s *Service) TokenResponse(ctx context.Context, clientName string) (core.AccessTokenResponse, error) {
	p, ok := s.clients[clientName]
	if !ok {
		return core.AccessTokenResponse{}, fmt.Errorf("%w: %s", core.ErrUnknownClient, clientName)
	}
	var subject string
	if p.GrantType.Delegated() {
		var err error
		if subject, err = s.builder.subjectToken(ctx); err != nil {
			return core.AccessTokenResponse{}, fmt.Errorf("client %q: %w", p.Name, err)
		}
	}
	skew := p.Cache.SkewOr(s.defaultSkew)
	// Built inside the fetch so a cache hit never signs an assertion.
	fetch := func(ctx context.Context) (core.AccessTokenResponse, error) {
		req, err := s.builder.Build(ctx, p)
		if err != nil {
			return core.AccessTokenResponse{}, err
		}
		resp, err := s.exchange(ctx, p, req)
		if err == nil && resp.ExpiresIn > 0 {
			resp.Expiry = time.Now().Add(TTL(resp.ExpiresIn, skew))
		}
		return resp, err
	}
	if !p.Cache.Enabled {
		return fetch(ctx)
	}
	return s.cache.GetOrFetch(ctx, CacheKey(p.Name, subject), skew, fetch)
}

// TokenSource adapts a client to oauth2.TokenSource so it can drive an
// oauth2.Transport. Each Token call goes through the service (and its cache),
// and the returned token expires when the service would stop handing it out,
// so oauth2.ReuseTokenSource and oauth2.NewClient come back for a new one.
func (s *Service) TokenSource(ctx context.Context, clientName string) oauth2.TokenSource {
	return &serviceSource{ctx: ctx, svc: s, client: clientName}
}

type serviceSource struct {
	ctx    context.Context
	svc    *Service
	client string
}

func (ts *serviceSource) Token() (*oauth2.Token, error) {
	resp, err := ts.svc.TokenResponse(ts.ctx, ts.client)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		Expiry:       resp.Expiry,
	}, nil
}

func (s *Service) exchange(ctx context.Context, p core.ClientProperties, req *FormRequest) (core.AccessTokenResponse, error) {
	resp, err := s.post(ctx, p, req)
	if s.events != nil {
		if lerr := s.events.LogTokenAcquired(ctx, p.Name, p.GrantType, resp.ExpiresIn, err); lerr != nil {
			s.log.WithError(lerr).Debug("auth event logger failed")
		}
	}
	return resp, err
}

func (s *Service) post(ctx context.Context, p core.ClientProperties, req *FormRequest) (core.AccessTokenResponse, error) {
	log := s.log.WithFields(logrus.Fields{"client": p.Name, "grant": p.GrantType})
	if s.limiter != nil {
		allowed, err := s.limiter.AllowNamed(BucketTokenEndpoint, p.Name)
		if err != nil {
			log.WithError(err).Warn("token endpoint limiter unavailable")
		} else if !allowed {
			return core.AccessTokenResponse{}, &core.TokenAcquisitionError{Client: p.Name, Err: core.ErrRateLimited}
		}
	}
	resp, err := s.requester.Post(ctx, req)
	if err != nil {
		log.WithError(err).Error("token request failed")
		return core.AccessTokenResponse{}, &core.TokenAcquisitionError{Client: p.Name, Err: err}
	}
	if resp.AccessToken == "" {
		return core.AccessTokenResponse{}, &core.TokenAcquisitionError{Client: p.Name, Err: errors.New("response has no access_token")}
	}
	log.WithField("expires_in", resp.ExpiresIn).Info("token acquired")
	return resp, nil
}

// CacheKey is the client name, plus a digest of the subject token for
// delegated grants so the raw token never becomes a key.
func CacheKey(clientName, subjectToken string) string {
	if subjectToken == "" {
		return clientName
	}
	sum := sha256.Sum256([]byte(subjectToken))
	return clientName + ":" + hex.EncodeToString(sum[:])
}
