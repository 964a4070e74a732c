package jwtkit

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ClientKey is the pre-provisioned RSA key pair a client uses for
// private_key_jwt authentication.
type ClientKey struct {
	Signer *RSASigner
}

// KeyID returns the kid sent in assertion headers.
func (k *ClientKey) KeyID() string { return k.Signer.KID() }

// PublicJWK returns the public half, carrying the kid and alg the client's
// assertions are signed with.
func (k *ClientKey) PublicJWK() (jwk.Key, error) {
	return PublicJWK(k.Signer.PublicKey(), k.Signer.KID(), k.Signer.Algorithm())
}

// LoadClientKey loads key material from a file. Supported formats:
//
//	PEM private key (PKCS#1 or PKCS#8), kid taken from the argument
//	JSON key file {"key_id": "...", "private_key_pem": "..."}
//	private JWK (RSA), kid from the JWK unless overridden by the argument
//
// Failures are configuration errors and should stop startup.
func LoadClientKey(path, kid string) (*ClientKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client key %s: %w", path, err)
	}
	return ParseClientKey(data, kid)
}

// ParseClientKey parses key material in any format accepted by LoadClientKey.
func ParseClientKey(data []byte, kid string) (*ClientKey, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty client key")
	}
	if trimmed[0] != '{' {
		signer, err := NewRSASignerFromPEM(kid, trimmed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return &ClientKey{Signer: signer}, nil
	}

	var keyFile struct {
		KeyID         string `json:"key_id"`
		PrivateKeyPEM string `json:"private_key_pem"`
		Kty           string `json:"kty"`
	}
	if err := json.Unmarshal(trimmed, &keyFile); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	if keyFile.Kty != "" {
		return parseJWKClientKey(trimmed, kid)
	}
	if keyFile.PrivateKeyPEM == "" {
		return nil, fmt.Errorf("key file missing private_key_pem")
	}
	if kid == "" {
		kid = keyFile.KeyID
	}
	if kid == "" {
		return nil, fmt.Errorf("key file missing key_id")
	}
	signer, err := NewRSASignerFromPEM(kid, []byte(keyFile.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &ClientKey{Signer: signer}, nil
}

func parseJWKClientKey(data []byte, kid string) (*ClientKey, error) {
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jwk: %w", err)
	}
	var priv rsa.PrivateKey
	if err := key.Raw(&priv); err != nil {
		return nil, fmt.Errorf("jwk is not an RSA private key: %w", err)
	}
	if kid == "" {
		kid = key.KeyID()
	}
	signer, err := NewRSASignerFromKey(kid, &priv)
	if err != nil {
		return nil, err
	}
	return &ClientKey{Signer: signer}, nil
}

// ClientKeyFromEnv reads <PREFIX>_KEY_ID and <PREFIX>_PRIVATE_KEY_PEM.
// Returns (nil, nil) if neither is set.
// Returns (nil, error) if only one is set or the key does not parse.
func ClientKeyFromEnv(prefix string) (*ClientKey, error) {
	prefix = strings.TrimSuffix(strings.ToUpper(prefix), "_")
	kidVar, pemVar := prefix+"_KEY_ID", prefix+"_PRIVATE_KEY_PEM"
	kid := strings.TrimSpace(os.Getenv(kidVar))
	pemStr := strings.TrimSpace(os.Getenv(pemVar))

	if kid == "" && pemStr == "" {
		return nil, nil
	}
	if kid == "" {
		return nil, fmt.Errorf("%s is set but %s is missing", pemVar, kidVar)
	}
	if pemStr == "" {
		return nil, fmt.Errorf("%s is set but %s is missing", kidVar, pemVar)
	}
	signer, err := NewRSASignerFromPEM(kid, []byte(pemStr))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pemVar, err)
	}
	return &ClientKey{Signer: signer}, nil
}
