package authhttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/PaulFidika/tokenkit/core"
	"github.com/sirupsen/logrus"
)

// TokenValidator is satisfied by *validation.Handler.
type TokenValidator interface {
	Validate(ctx context.Context, raw string, issuerNames ...string) (*core.ValidationContext, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Middleware validates the bearer token, if any, and attaches the resulting
// core.ValidationContext to the request context. Requests without a valid
// token pass through with an empty context; use Required to reject them.
// A key set fetch failure answers 503 since the token could not be judged.
func Middleware(v TokenValidator, log logrus.FieldLogger, issuerNames ...string) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vc := core.EmptyValidationContext()
			if raw := BearerToken(r); raw != "" {
				var err error
				vc, err = v.Validate(r.Context(), raw, issuerNames...)
				if err != nil {
					log.WithError(err).Warn("bearer token could not be validated")
					writeError(w, http.StatusServiceUnavailable, "token_validation_unavailable")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(core.WithValidationContext(r.Context(), vc)))
		})
	}
}

// Required answers 401 unless Middleware found a valid token, from any of
// issuerNames when given.
func Required(issuerNames ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vc, _ := core.ValidationContextFrom(r.Context())
			if !accepted(vc, issuerNames) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accepted(vc *core.ValidationContext, issuerNames []string) bool {
	if len(issuerNames) == 0 {
		return vc.HasValidToken()
	}
	for _, n := range issuerNames {
		if vc.HasTokenFor(n) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
