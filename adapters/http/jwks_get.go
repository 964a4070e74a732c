package authhttp

import (
	"fmt"
	"net/http"

	jwtkit "github.com/PaulFidika/tokenkit/jwt"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSHandler publishes the public half of client assertion keys so that
// authorization servers can verify private_key_jwt assertions. Nil keys are
// skipped.
func JWKSHandler(keys ...*jwtkit.ClientKey) (http.Handler, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		if k == nil {
			continue
		}
		pub, err := k.PublicJWK()
		if err != nil {
			return nil, fmt.Errorf("publish client key %q: %w", k.KeyID(), err)
		}
		if err := set.AddKey(pub); err != nil {
			return nil, err
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, set)
	}), nil
}
