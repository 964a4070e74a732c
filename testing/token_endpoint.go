package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// TokenRequest is one request received by a TestTokenEndpoint.
type TokenRequest struct {
	Form url.Values
	// BasicUser and BasicPassword are set when the client used HTTP Basic.
	BasicUser     string
	BasicPassword string
}

// TestTokenEndpoint is a mock OAuth2 token endpoint. Each successful call
// issues "token-N" where N counts calls from 1.
type TestTokenEndpoint struct {
	server *httptest.Server

	mu        sync.Mutex
	requests  []TokenRequest
	expiresIn int64
	status    int
	delay     time.Duration
}

// NewTestTokenEndpoint returns an endpoint issuing tokens that expire in an hour.
func NewTestTokenEndpoint() *TestTokenEndpoint {
	te := &TestTokenEndpoint{expiresIn: 3600, status: http.StatusOK}
	te.server = httptest.NewServer(http.HandlerFunc(te.handle))
	return te
}

// URL is the token endpoint URL.
func (te *TestTokenEndpoint) URL() string { return te.server.URL }

func (te *TestTokenEndpoint) Client() *http.Client { return te.server.Client() }

func (te *TestTokenEndpoint) Close() { te.server.Close() }

// SetExpiresIn sets expires_in for subsequent responses.
func (te *TestTokenEndpoint) SetExpiresIn(seconds int64) {
	te.mu.Lock()
	te.expiresIn = seconds
	te.mu.Unlock()
}

// SetStatus makes subsequent responses use status. Non-2xx statuses return
// an "invalid_client" error body.
func (te *TestTokenEndpoint) SetStatus(status int) {
	te.mu.Lock()
	te.status = status
	te.mu.Unlock()
}

// SetDelay holds every response for d, to widen concurrency windows.
func (te *TestTokenEndpoint) SetDelay(d time.Duration) {
	te.mu.Lock()
	te.delay = d
	te.mu.Unlock()
}

// Calls reports how many requests were received.
func (te *TestTokenEndpoint) Calls() int {
	te.mu.Lock()
	defer te.mu.Unlock()
	return len(te.requests)
}

// Requests returns a copy of every request received.
func (te *TestTokenEndpoint) Requests() []TokenRequest {
	te.mu.Lock()
	defer te.mu.Unlock()
	return append([]TokenRequest(nil), te.requests...)
}

// LastRequest returns the most recent request.
func (te *TestTokenEndpoint) LastRequest() (TokenRequest, bool) {
	te.mu.Lock()
	defer te.mu.Unlock()
	if len(te.requests) == 0 {
		return TokenRequest{}, false
	}
	return te.requests[len(te.requests)-1], true
}

func (te *TestTokenEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := TokenRequest{Form: r.PostForm}
	rec.BasicUser, rec.BasicPassword, _ = r.BasicAuth()

	te.mu.Lock()
	te.requests = append(te.requests, rec)
	n := len(te.requests)
	status, expiresIn, delay := te.status, te.expiresIn, te.delay
	te.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	w.Header().Set("Content-Type", "application/json")
	if status < 200 || status >= 300 {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_client",
			"error_description": "client authentication failed",
		})
		return
	}
	w.WriteHeader(status)
	body := map[string]any{
		"access_token": fmt.Sprintf("token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if scope := rec.Form.Get("scope"); scope != "" {
		body["scope"] = scope
	}
	_ = json.NewEncoder(w).Encode(body)
}
