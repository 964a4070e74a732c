package core

import (
	"errors"
	"fmt"
)

// Configuration errors are fatal at startup.
var (
	ErrConfig        = errors.New("tokenkit: invalid configuration")
	ErrUnknownIssuer = errors.New("tokenkit: unknown issuer")
	ErrUnknownClient = errors.New("tokenkit: unknown client")
)

// Token rejections. These are expected traffic and map to "unauthenticated".
var (
	ErrMalformedToken       = errors.New("tokenkit: malformed token")
	ErrKeyResolution        = errors.New("tokenkit: signing key could not be resolved")
	ErrKeyNotFound          = errors.New("tokenkit: key not found")
	ErrSignatureInvalid     = errors.New("tokenkit: signature invalid")
	ErrClaimsInvalid        = errors.New("tokenkit: claims invalid")
	ErrRequiredClaimMissing = errors.New("tokenkit: required claim missing")
)

// Transport errors. Distinct from rejections so callers can alert or retry.
var (
	ErrKeySetFetch      = errors.New("tokenkit: key set fetch failed")
	ErrTokenAcquisition = errors.New("tokenkit: token acquisition failed")
)

// Outbound request construction errors.
var (
	ErrSigning             = errors.New("tokenkit: signing failed")
	ErrUnsupportedGrant    = errors.New("tokenkit: unsupported grant type")
	ErrMissingSubjectToken = errors.New("tokenkit: no subject token available")
	ErrRateLimited         = errors.New("tokenkit: token endpoint budget exhausted")
)

// ClaimsError names the standard claim check that failed.
type ClaimsError struct {
	Check  string // iss, aud, exp, nbf
	Reason string
}

func (e *ClaimsError) Error() string {
	return fmt.Sprintf("tokenkit: claims invalid: %s: %s", e.Check, e.Reason)
}

func (e *ClaimsError) Unwrap() error { return ErrClaimsInvalid }

// KeySetFetchError reports a failed JWKS retrieval for an issuer.
type KeySetFetchError struct {
	Issuer string
	URL    string
	Err    error
}

func (e *KeySetFetchError) Error() string {
	return fmt.Sprintf("tokenkit: key set fetch for %s (%s): %v", e.Issuer, e.URL, e.Err)
}

func (e *KeySetFetchError) Unwrap() []error { return []error{ErrKeySetFetch, e.Err} }

// TokenAcquisitionError wraps a failed exchange with a token endpoint.
type TokenAcquisitionError struct {
	Client string
	Err    error
}

func (e *TokenAcquisitionError) Error() string {
	return fmt.Sprintf("tokenkit: token acquisition for client %q: %v", e.Client, e.Err)
}

func (e *TokenAcquisitionError) Unwrap() []error { return []error{ErrTokenAcquisition, e.Err} }

// IsRejection reports whether err is a token rejection rather than a
// transport or configuration fault.
func IsRejection(err error) bool {
	if err == nil || errors.Is(err, ErrKeySetFetch) {
		return false
	}
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrKeyResolution) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrClaimsInvalid) ||
		errors.Is(err, ErrRequiredClaimMissing)
}
