package oidckit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PaulFidika/tokenkit/core"
	tokentest "github.com/PaulFidika/tokenkit/testing"
)

func TestDiscover(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()

	for _, u := range []string{ti.URL(), ti.URL() + "/", ti.URL() + "/.well-known/openid-configuration"} {
		doc, err := Discover(context.Background(), ti.Client(), u)
		if err != nil {
			t.Fatalf("%s: %v", u, err)
		}
		if doc.Issuer != ti.URL() || doc.JWKSURI != ti.JWKSURL() {
			t.Fatalf("unexpected document %+v", doc)
		}
	}
}

func TestDiscoverFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/incomplete/.well-known/openid-configuration" {
			_, _ = w.Write([]byte(`{"issuer":"x"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	for _, u := range []string{srv.URL, srv.URL + "/incomplete"} {
		if _, err := Discover(context.Background(), srv.Client(), u); !errors.Is(err, core.ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", u, err)
		}
	}
	if _, err := Discover(context.Background(), nil, " "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
