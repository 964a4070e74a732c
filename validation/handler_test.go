package validation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	tokentest "github.com/PaulFidika/tokenkit/testing"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHandler(t *testing.T, cfg core.AcceptConfig, opts ...Option) *Handler {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithHTTPClient(http.DefaultClient)}, opts...)
	h, err := NewHandler(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func TestValidateAcceptsConfiguredIssuer(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{a.IssuerConfig("iss-a")}})

	raw := a.CreateTokenWithExpiry("user-1", time.Now().Add(5*time.Minute))
	vc, err := h.Validate(context.Background(), raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !vc.HasTokenFor("iss-a") {
		t.Fatalf("expected a token for iss-a")
	}
	tok, _ := vc.Token("iss-a")
	if tok.Subject() != "user-1" || tok.Raw() != raw || tok.Issuer() != a.URL() {
		t.Fatalf("unexpected token %v", tok.Claims())
	}
}

func TestValidateOtherIssuerYieldsEmptyContext(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	b := tokentest.NewTestIssuerWithAudience("aud-a")
	defer b.Close()

	raw := a.CreateTokenWithExpiry("user-1", time.Now().Add(5*time.Minute))
	for _, sel := range []core.SelectionPolicy{core.SelectByIssuerClaim, core.SelectAllIssuers} {
		h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{b.IssuerConfig("iss-b")}, Selection: sel})
		vc, err := h.Validate(context.Background(), raw)
		if err != nil {
			t.Fatalf("%s: rejection must not be an error: %v", sel, err)
		}
		if vc.HasValidToken() || vc.Len() != 0 {
			t.Fatalf("%s: expected empty context, got %v", sel, vc.Issuers())
		}
	}
}

func TestValidateRejections(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	b := tokentest.NewTestIssuerWithAudience("aud-a")
	defer b.Close()
	h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{a.IssuerConfig("iss-a")}})

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": a.URL(), "aud": "aud-a", "exp": time.Now().Add(time.Hour).Unix(),
	})
	hsRaw, _ := hs.SignedString([]byte("shared-secret"))

	cases := map[string]string{
		"expired":        a.CreateExpiredToken("user-1"),
		"wrong audience": a.CreateTokenWithClaims("user-1", map[string]any{"aud": "aud-z"}),
		"no expiry":      a.CreateTokenWithClaims("user-1", map[string]any{"exp": nil}),
		"not yet valid":  a.CreateTokenWithClaims("user-1", map[string]any{"nbf": time.Now().Add(time.Hour).Unix()}),
		"wrong key":      b.CreateTokenWithClaims("user-1", map[string]any{"iss": a.URL()}),
		"hmac":           hsRaw,
		"malformed":      "not.a.jwt",
		"empty":          "",
	}
	for name, raw := range cases {
		vc, err := h.Validate(context.Background(), raw)
		if err != nil {
			t.Fatalf("%s: rejection must not be an error: %v", name, err)
		}
		if vc.HasValidToken() {
			t.Fatalf("%s: token should have been rejected", name)
		}
	}
}

func TestValidateExplicitIssuers(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	b := tokentest.NewTestIssuerWithAudience("aud-b")
	defer b.Close()
	h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{a.IssuerConfig("iss-a"), b.IssuerConfig("iss-b")}})

	raw := a.CreateToken("user-1")
	vc, err := h.Validate(context.Background(), raw, "iss-a", "iss-b")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !vc.HasTokenFor("iss-a") || vc.HasTokenFor("iss-b") {
		t.Fatalf("expected only iss-a, got %v", vc.Issuers())
	}

	vc, err = h.Validate(context.Background(), raw, "iss-b")
	if err != nil || vc.HasValidToken() {
		t.Fatalf("iss-b must reject a token from a, got %v %v", vc.Issuers(), err)
	}

	if _, err := h.Validate(context.Background(), raw, "iss-z"); !errors.Is(err, core.ErrUnknownIssuer) {
		t.Fatalf("expected ErrUnknownIssuer, got %v", err)
	}
}

func TestValidateSameSourceMultipleConfigs(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	api := a.IssuerConfig("api")
	admin := a.IssuerConfig("admin")
	admin.Audiences = []string{"aud-admin"}
	h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{api, admin}})

	both := a.CreateTokenWithClaims("user-1", map[string]any{"aud": []string{"aud-a", "aud-admin"}})
	vc, err := h.Validate(context.Background(), both)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := vc.Issuers(); len(got) != 2 {
		t.Fatalf("expected both configs to verify, got %v", got)
	}

	one := a.CreateToken("user-1")
	vc, _ = h.Validate(context.Background(), one)
	if !vc.HasTokenFor("api") || vc.HasTokenFor("admin") {
		t.Fatalf("expected only api, got %v", vc.Issuers())
	}
	if a.JWKSFetches() != 2 {
		t.Fatalf("expected one jwks fetch per issuer config, got %d", a.JWKSFetches())
	}
}

func TestValidateDefaultIssuerPolicy(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	b := tokentest.NewTestIssuerWithAudience("aud-b")
	defer b.Close()
	h := newHandler(t, core.AcceptConfig{
		Issuers:       []core.IssuerConfig{a.IssuerConfig("iss-a"), b.IssuerConfig("iss-b")},
		Selection:     core.SelectDefaultIssuer,
		DefaultIssuer: "iss-b",
	})

	vc, _ := h.Validate(context.Background(), a.CreateToken("user-1"))
	if vc.HasValidToken() {
		t.Fatalf("default policy must only try iss-b")
	}
	vc, _ = h.Validate(context.Background(), b.CreateToken("user-2"))
	if !vc.HasTokenFor("iss-b") {
		t.Fatalf("expected iss-b token")
	}
}

func TestValidateKeySetFetchFailurePropagates(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{a.IssuerConfig("iss-a")}})
	a.FailJWKS(true)

	vc, err := h.Validate(context.Background(), a.CreateToken("user-1"))
	if !errors.Is(err, core.ErrKeySetFetch) {
		t.Fatalf("expected ErrKeySetFetch, got %v", err)
	}
	if core.IsRejection(err) {
		t.Fatalf("fetch failure must not look like a rejection")
	}
	if vc == nil || vc.HasValidToken() {
		t.Fatalf("expected empty context alongside the error")
	}

	// Nothing was cached by the failed fetch.
	a.FailJWKS(false)
	vc, err = h.Validate(context.Background(), a.CreateToken("user-1"))
	if err != nil || !vc.HasTokenFor("iss-a") {
		t.Fatalf("expected recovery after fetch succeeds, got %v", err)
	}
}

func TestValidatePicksUpRotatedKey(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{a.IssuerConfig("iss-a")}})

	if vc, _ := h.Validate(context.Background(), a.CreateToken("u")); !vc.HasValidToken() {
		t.Fatalf("initial token should verify")
	}
	a.RotateKey("test-key-2", false)
	if vc, _ := h.Validate(context.Background(), a.CreateToken("u")); !vc.HasValidToken() {
		t.Fatalf("token signed with rotated key should verify after refetch")
	}
}

func TestNewHandlerDiscovery(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()

	cfg := core.IssuerConfig{Name: "iss-a", DiscoveryURL: a.URL(), Audiences: []string{"aud-a"}}
	h := newHandler(t, core.AcceptConfig{Issuers: []core.IssuerConfig{cfg}})
	if vc, err := h.Validate(context.Background(), a.CreateToken("u")); err != nil || !vc.HasTokenFor("iss-a") {
		t.Fatalf("discovered issuer should verify, err=%v", err)
	}

	cfg.Issuer = "https://elsewhere.example.com"
	_, err := NewHandler(context.Background(), core.AcceptConfig{Issuers: []core.IssuerConfig{cfg}}, WithLogger(quietLogger()))
	if !errors.Is(err, core.ErrConfig) {
		t.Fatalf("expected ErrConfig for issuer mismatch, got %v", err)
	}
}

func TestNewHandlerRejectsBadConfig(t *testing.T) {
	_, err := NewHandler(context.Background(), core.AcceptConfig{}, WithLogger(quietLogger()))
	if !errors.Is(err, core.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	_, err = NewHandler(context.Background(), core.AcceptConfig{Issuers: []core.IssuerConfig{{
		Name: "iss-a", Issuer: "https://a", JWKSURL: "https://a/jwks", Audiences: []string{"a"},
	}}}, WithLogger(quietLogger()), WithKeyRefresh("bogus"))
	if !errors.Is(err, core.ErrConfig) {
		t.Fatalf("expected ErrConfig for refresh spec, got %v", err)
	}
}

func TestContextTokenResolver(t *testing.T) {
	tok := core.NewJwtToken("raw-a", nil, map[string]any{"sub": "u"})
	vc := core.NewValidationContext(map[string]*core.JwtToken{"iss-a": tok})
	ctx := core.WithValidationContext(context.Background(), vc)

	if raw, ok := (ContextTokenResolver{}).SubjectToken(ctx); !ok || raw != "raw-a" {
		t.Fatalf("expected raw-a, got %q %v", raw, ok)
	}
	if _, ok := (ContextTokenResolver{Issuer: "iss-b"}).SubjectToken(ctx); ok {
		t.Fatalf("expected nothing for iss-b")
	}
	if _, ok := (ContextTokenResolver{}).SubjectToken(context.Background()); ok {
		t.Fatalf("expected nothing without a context")
	}
}

type recordedEvent struct {
	issuer, subject string
	err             error
}

type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEvents) LogValidation(ctx context.Context, issuer, subject string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{issuer, subject, err})
	return nil
}

func (r *recordingEvents) LogTokenAcquired(context.Context, string, core.GrantType, int64, error) error {
	return nil
}

func TestValidateReportsAuthEvents(t *testing.T) {
	a := tokentest.NewTestIssuerWithAudience("aud-a")
	defer a.Close()
	b := tokentest.NewTestIssuerWithAudience("aud-b")
	defer b.Close()
	events := &recordingEvents{}
	h := newHandler(t, core.AcceptConfig{
		Issuers:   []core.IssuerConfig{a.IssuerConfig("iss-a"), b.IssuerConfig("iss-b")},
		Selection: core.SelectAllIssuers,
	}, WithEventLogger(events))

	if _, err := h.Validate(context.Background(), a.CreateToken("user-1")); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected one event per issuer, got %d", len(events.events))
	}
	ok, rejected := events.events[0], events.events[1]
	if ok.issuer != "iss-a" || ok.subject != "user-1" || ok.err != nil {
		t.Fatalf("unexpected success event %+v", ok)
	}
	if rejected.issuer != "iss-b" || !core.IsRejection(rejected.err) {
		t.Fatalf("unexpected rejection event %+v", rejected)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	env := core.DefaultEnvConfig()
	if len(OptionsFromEnv(env)) != 0 {
		t.Fatalf("no options expected by default")
	}
	env.JWKSRefreshSpec = "@every 5m"
	var o handlerOptions
	for _, opt := range OptionsFromEnv(env) {
		opt(&o)
	}
	if o.refreshSpec != "@every 5m" {
		t.Fatalf("refresh spec not applied")
	}
}
