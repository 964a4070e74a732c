package oidckit

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// KeySetFetcher retrieves an issuer's JWKS document.
type KeySetFetcher interface {
	Fetch(ctx context.Context, url string) (jwk.Set, error)
}

// HTTPFetcher fetches key sets over HTTP using jwx.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) (jwk.Set, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	return jwk.Fetch(ctx, url, jwk.WithHTTPClient(client))
}

type resolvedKey struct {
	alg string // empty when the JWK does not pin one
	key any    // *rsa.PublicKey or *ecdsa.PublicKey
}

// keySet is immutable once published.
type keySet struct {
	byKID     map[string][]resolvedKey
	all       []resolvedKey
	fetchedAt time.Time
}

// KeyResolver caches issuers' public signing keys. A lookup miss always
// triggers one refetch of the issuer's key set before failing, so rotation is
// picked up without a restart.
type KeyResolver struct {
	fetcher KeySetFetcher
	log     logrus.FieldLogger

	mu      sync.RWMutex
	sources map[string]string
	sets    map[string]*keySet

	group singleflight.Group
	cron  *cron.Cron
}

// KeyResolverOption configures a KeyResolver.
type KeyResolverOption func(*KeyResolver)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f KeySetFetcher) KeyResolverOption {
	return func(r *KeyResolver) { r.fetcher = f }
}

// WithHTTPClient sets the client used by the default fetcher.
func WithHTTPClient(c *http.Client) KeyResolverOption {
	return func(r *KeyResolver) { r.fetcher = HTTPFetcher{Client: c} }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) KeyResolverOption {
	return func(r *KeyResolver) { r.log = l }
}

func NewKeyResolver(opts ...KeyResolverOption) *KeyResolver {
	r := &KeyResolver{
		fetcher: HTTPFetcher{},
		log:     logrus.StandardLogger(),
		sources: make(map[string]string),
		sets:    make(map[string]*keySet),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates an issuer name with its JWKS URL. Registering again
// replaces the URL and drops any cached set.
func (r *KeyResolver) Register(issuer, jwksURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sources[issuer] != jwksURL {
		delete(r.sets, issuer)
	}
	r.sources[issuer] = jwksURL
}

// ResolveKey returns the public key for kid (and alg) in the issuer's set.
// A miss refetches once; concurrent misses for the same issuer share that
// fetch, which outlives any one caller's ctx. Fetch failures are returned as
// *core.KeySetFetchError.
func (r *KeyResolver) ResolveKey(ctx context.Context, issuer, kid, alg string) (any, error) {
	if set := r.cached(issuer); set != nil {
		if key, ok := set.lookup(kid, alg); ok {
			return key, nil
		}
	}
	set, err := r.refresh(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if key, ok := set.lookup(kid, alg); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: issuer %s kid %q alg %s", core.ErrKeyNotFound, issuer, kid, alg)
}

// Refresh refetches one issuer's key set.
func (r *KeyResolver) Refresh(ctx context.Context, issuer string) error {
	_, err := r.refresh(ctx, issuer)
	return err
}

// RefreshAll refetches every registered issuer and returns the first error.
func (r *KeyResolver) RefreshAll(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var first error
	for _, name := range names {
		if err := r.Refresh(ctx, name); err != nil {
			r.log.WithError(err).WithField("issuer", name).Warn("jwks refresh failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// StartRefresh schedules RefreshAll on a cron spec such as "@every 5m".
func (r *KeyResolver) StartRefresh(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("oidc: key refresh already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.RefreshAll(ctx)
	}); err != nil {
		return fmt.Errorf("%w: jwks refresh spec %q: %v", core.ErrConfig, spec, err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts scheduled refreshes and waits for a running one to finish.
func (r *KeyResolver) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (r *KeyResolver) cached(issuer string) *keySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[issuer]
}

// fetchTimeout bounds a shared key set fetch, which runs detached from the
// caller that started it.
const fetchTimeout = 30 * time.Second

func (r *KeyResolver) refresh(ctx context.Context, issuer string) (*keySet, error) {
	ch := r.group.DoChan(issuer, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		r.mu.RLock()
		url, ok := r.sources[issuer]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrUnknownIssuer, issuer)
		}
		raw, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, &core.KeySetFetchError{Issuer: issuer, URL: url, Err: err}
		}
		set := buildKeySet(ctx, raw, r.log.WithField("issuer", issuer))

		r.mu.Lock()
		// A concurrent Register may have pointed the issuer elsewhere.
		if r.sources[issuer] == url {
			r.sets[issuer] = set
		}
		r.mu.Unlock()

		r.log.WithFields(logrus.Fields{"issuer": issuer, "keys": len(set.all)}).Debug("jwks fetched")
		return set, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keySet), nil
	}
}

func buildKeySet(_ context.Context, raw jwk.Set, log logrus.FieldLogger) *keySet {
	set := &keySet{byKID: make(map[string][]resolvedKey), fetchedAt: time.Now()}
	for i := 0; i < raw.Len(); i++ {
		k, ok := raw.Key(i)
		if !ok {
			continue
		}
		if use := k.KeyUsage(); use != "" && use != "sig" {
			continue
		}
		var pub any
		if err := k.Raw(&pub); err != nil {
			log.WithError(err).WithField("kid", k.KeyID()).Warn("skipping unusable jwk")
			continue
		}
		switch pub.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
		default:
			continue
		}
		rk := resolvedKey{key: pub}
		if a := k.Algorithm(); a != nil {
			rk.alg = a.String()
		}
		set.all = append(set.all, rk)
		set.byKID[k.KeyID()] = append(set.byKID[k.KeyID()], rk)
	}
	return set
}

// lookup finds a key compatible with alg. Without a kid, only an unambiguous
// single candidate is accepted.
func (s *keySet) lookup(kid, alg string) (any, bool) {
	candidates := s.all
	if kid != "" {
		candidates = s.byKID[kid]
	}
	var match []any
	for _, rk := range candidates {
		if rk.alg != "" && rk.alg != alg {
			continue
		}
		if !keyFitsAlg(rk.key, alg) {
			continue
		}
		match = append(match, rk.key)
	}
	if len(match) == 0 || (kid == "" && len(match) > 1) {
		return nil, false
	}
	return match[0], true
}

func keyFitsAlg(key any, alg string) bool {
	switch key.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		return strings.HasPrefix(alg, "ES")
	}
	return false
}
