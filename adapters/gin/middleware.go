// Package authgin wires inbound token validation into gin routers.
package authgin

import (
	"net/http"

	authhttp "github.com/PaulFidika/tokenkit/adapters/http"
	"github.com/PaulFidika/tokenkit/core"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const ctxKeyValidation = "auth.validation"

// TokenValidator is satisfied by *validation.Handler.
type TokenValidator = authhttp.TokenValidator

// Validate runs the validator over the bearer token and stores the resulting
// context on both the gin context and the request context, so that
// validation.ContextTokenResolver can find it downstream.
func Validate(v TokenValidator, log logrus.FieldLogger, issuerNames ...string) gin.HandlerFunc {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		vc := core.EmptyValidationContext()
		if raw := authhttp.BearerToken(c.Request); raw != "" {
			var err error
			vc, err = v.Validate(c.Request.Context(), raw, issuerNames...)
			if err != nil {
				log.WithError(err).WithField("path", c.FullPath()).Warn("bearer token could not be validated")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token_validation_unavailable"})
				return
			}
		}
		setValidationContext(c, vc)
		c.Next()
	}
}

// AuthRequired aborts with 401 unless a valid token was found, from any of
// issuerNames when given. It must run after Validate.
func AuthRequired(issuerNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		vc, _ := ValidationContextFromGin(c)
		ok := vc.HasValidToken()
		if len(issuerNames) > 0 {
			ok = false
			for _, n := range issuerNames {
				if vc.HasTokenFor(n) {
					ok = true
					break
				}
			}
		}
		if !ok {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		c.Next()
	}
}

// ValidationContextFromGin returns the context stored by Validate.
func ValidationContextFromGin(c *gin.Context) (*core.ValidationContext, bool) {
	if v, ok := c.Get(ctxKeyValidation); ok {
		if vc, ok := v.(*core.ValidationContext); ok {
			return vc, true
		}
	}
	return core.ValidationContextFrom(c.Request.Context())
}

// Subject returns the subject of the first valid token, if any.
func Subject(c *gin.Context) (string, bool) {
	vc, _ := ValidationContextFromGin(c)
	tok, ok := vc.FirstValidToken()
	if !ok {
		return "", false
	}
	return tok.Subject(), tok.Subject() != ""
}

func setValidationContext(c *gin.Context, vc *core.ValidationContext) {
	c.Set(ctxKeyValidation, vc)
	c.Request = c.Request.WithContext(core.WithValidationContext(c.Request.Context(), vc))
}

