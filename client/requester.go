package clientkit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Requester posts a token request. Implementations return an error for any
// non-success response; the service wraps it in core.TokenAcquisitionError.
type Requester interface {
	Post(ctx context.Context, req *FormRequest) (core.AccessTokenResponse, error)
}

// OAuth2Requester posts through golang.org/x/oauth2. Non-2xx responses
// surface as *oauth2.RetrieveError.
type OAuth2Requester struct {
	Client *http.Client
}

func (r OAuth2Requester) Post(ctx context.Context, req *FormRequest) (core.AccessTokenResponse, error) {
	params := url.Values{}
	for k, v := range req.Form {
		params[k] = append([]string(nil), v...)
	}
	cfg := clientcredentials.Config{
		ClientID:     params.Get("client_id"),
		ClientSecret: params.Get("client_secret"),
		TokenURL:     req.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if req.BasicAuth {
		cfg.AuthStyle = oauth2.AuthStyleInHeader
	}
	params.Del("client_id")
	params.Del("client_secret")
	// grant_type is the one parameter x/oauth2 lets callers override.
	cfg.EndpointParams = params

	if r.Client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.Client)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return core.AccessTokenResponse{}, err
	}
	return responseFromToken(tok, time.Now()), nil
}

func responseFromToken(tok *oauth2.Token, now time.Time) core.AccessTokenResponse {
	resp := core.AccessTokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if s, ok := tok.Extra("scope").(string); ok {
		resp.Scope = s
	}
	if n, ok := expiresIn(tok.Extra("expires_in")); ok {
		resp.ExpiresIn = n
	} else if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(math.Round(tok.Expiry.Sub(now).Seconds()))
		if resp.ExpiresIn < 0 {
			resp.ExpiresIn = 0
		}
	}
	return resp
}

func expiresIn(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}
