package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	oidckit "github.com/PaulFidika/tokenkit/oidc"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Handler dispatches a bearer token to the verifiers of the configured
// issuers and collects every successful verification.
type Handler struct {
	verifiers map[string]*Verifier
	order     []string
	byIssuer  map[string][]string
	selection core.SelectionPolicy
	fallback  string
	keys      *oidckit.KeyResolver
	events    core.AuthEventLogger
	log       logrus.FieldLogger
}

type handlerOptions struct {
	httpClient  *http.Client
	keys        *oidckit.KeyResolver
	log         logrus.FieldLogger
	now         func() time.Time
	refreshSpec string
	events      core.AuthEventLogger
}

// Option configures a Handler.
type Option func(*handlerOptions)

// WithHTTPClient is used for discovery and JWKS fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *handlerOptions) { o.httpClient = c }
}

// WithKeyResolver shares a resolver between handlers.
func WithKeyResolver(r *oidckit.KeyResolver) Option {
	return func(o *handlerOptions) { o.keys = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *handlerOptions) { o.log = l }
}

// WithClock overrides time.Now for claim checks.
func WithClock(now func() time.Time) Option {
	return func(o *handlerOptions) { o.now = now }
}

// WithEventLogger reports every per-issuer outcome to an audit sink.
func WithEventLogger(l core.AuthEventLogger) Option {
	return func(o *handlerOptions) { o.events = l }
}

// WithKeyRefresh schedules proactive JWKS refresh on a cron spec.
func WithKeyRefresh(spec string) Option {
	return func(o *handlerOptions) { o.refreshSpec = spec }
}

// OptionsFromEnv maps process-wide settings to handler options.
func OptionsFromEnv(env core.EnvConfig) []Option {
	var opts []Option
	if env.JWKSRefreshSpec != "" {
		opts = append(opts, WithKeyRefresh(env.JWKSRefreshSpec))
	}
	return opts
}

// NewHandler validates cfg, runs discovery for issuers without a JWKS URL and
// registers every issuer with the key resolver. Any error is a configuration
// error and should stop startup.
func NewHandler(ctx context.Context, cfg core.AcceptConfig, opts ...Option) (*Handler, error) {
	o := handlerOptions{log: logrus.StandardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.keys == nil {
		o.keys = oidckit.NewKeyResolver(oidckit.WithHTTPClient(o.httpClient), oidckit.WithLogger(o.log))
	}

	h := &Handler{
		verifiers: make(map[string]*Verifier, len(cfg.Issuers)),
		byIssuer:  make(map[string][]string),
		selection: cfg.Selection,
		fallback:  cfg.DefaultIssuer,
		keys:      o.keys,
		events:    o.events,
		log:       o.log,
	}
	if h.selection == "" {
		h.selection = core.SelectByIssuerClaim
	}

	for _, ic := range cfg.Issuers {
		ic = ic.Normalize()
		jwksURL := ic.JWKSURL
		if ic.DiscoveryURL != "" {
			doc, err := oidckit.Discover(ctx, o.httpClient, ic.DiscoveryURL)
			if err != nil {
				return nil, fmt.Errorf("issuer %q: %w", ic.Name, err)
			}
			if ic.Issuer == "" {
				ic.Issuer = doc.Issuer
			} else if strings.TrimRight(ic.Issuer, "/") != strings.TrimRight(doc.Issuer, "/") {
				return nil, fmt.Errorf("%w: issuer %q: discovery reports issuer %q", core.ErrConfig, ic.Name, doc.Issuer)
			}
			if jwksURL == "" {
				jwksURL = doc.JWKSURI
			}
		}
		o.keys.Register(ic.Name, jwksURL)

		v, err := NewVerifier(ic, o.keys)
		if err != nil {
			return nil, err
		}
		v.now = o.now
		h.verifiers[ic.Name] = v
		h.order = append(h.order, ic.Name)
		h.byIssuer[ic.Issuer] = append(h.byIssuer[ic.Issuer], ic.Name)
		o.log.WithFields(logrus.Fields{"issuer": ic.Name, "iss": ic.Issuer, "jwks": jwksURL}).Info("accepting tokens from issuer")
	}

	if o.refreshSpec != "" {
		if err := o.keys.StartRefresh(o.refreshSpec); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Close stops proactive key refresh, if any.
func (h *Handler) Close() { h.keys.Stop() }

// Issuers returns configured issuer names in configuration order.
func (h *Handler) Issuers() []string { return append([]string(nil), h.order...) }

// Validate verifies raw against the named issuers or, when none are named,
// against the issuers picked by the selection policy. Rejections by single
// issuers are not errors: the returned context simply lacks those entries,
// and may be empty. A key set fetch failure is returned as an error together
// with whatever verified before it.
func (h *Handler) Validate(ctx context.Context, raw string, issuerNames ...string) (*core.ValidationContext, error) {
	targets, err := h.targets(raw, issuerNames)
	if err != nil {
		return core.EmptyValidationContext(), err
	}

	verified := make(map[string]*core.JwtToken, len(targets))
	var transportErrs []error
	for _, name := range targets {
		tok, err := h.verifiers[name].Verify(ctx, raw)
		h.audit(ctx, name, tok, err)
		if err == nil {
			verified[name] = tok
			continue
		}
		entry := h.log.WithError(err).WithField("issuer", name)
		if errors.Is(err, core.ErrKeySetFetch) {
			entry.Warn("token verification aborted by key set fetch failure")
			transportErrs = append(transportErrs, err)
			continue
		}
		entry.Debug("token rejected")
	}
	return core.NewValidationContext(verified), errors.Join(transportErrs...)
}

func (h *Handler) audit(ctx context.Context, issuer string, tok *core.JwtToken, verr error) {
	if h.events == nil {
		return
	}
	var sub string
	if tok != nil {
		sub = tok.Subject()
	}
	if err := h.events.LogValidation(ctx, issuer, sub, verr); err != nil {
		h.log.WithError(err).Debug("auth event logger failed")
	}
}

func (h *Handler) targets(raw string, issuerNames []string) ([]string, error) {
	if len(issuerNames) > 0 {
		for _, n := range issuerNames {
			if _, ok := h.verifiers[n]; !ok {
				return nil, fmt.Errorf("%w: %s", core.ErrUnknownIssuer, n)
			}
		}
		return issuerNames, nil
	}
	switch h.selection {
	case core.SelectAllIssuers:
		return h.order, nil
	case core.SelectDefaultIssuer:
		return []string{h.fallback}, nil
	default:
		iss := peekIssuer(raw)
		if iss == "" {
			return nil, nil
		}
		return h.byIssuer[iss], nil
	}
}

// peekIssuer reads "iss" without verifying anything. It only routes the
// token; the verifier checks it again after the signature.
func peekIssuer(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	iss, _ := claims.GetIssuer()
	return iss
}
