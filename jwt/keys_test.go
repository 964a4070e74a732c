package jwtkit

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func pemFor(t *testing.T, s *RSASigner) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(s.PrivateKey())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestLoadClientKeyFormats(t *testing.T) {
	src, err := NewRSASigner(2048, "")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	dir := t.TempDir()
	pemBytes := pemFor(t, src)

	pemPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(pemPath, pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}
	k, err := LoadClientKey(pemPath, "pem-kid")
	if err != nil {
		t.Fatalf("pem: %v", err)
	}
	if k.KeyID() != "pem-kid" || k.Signer.PublicKey().N.Cmp(src.PublicKey().N) != 0 {
		t.Fatalf("pem key mismatch")
	}

	jsonBytes, _ := json.Marshal(map[string]string{"key_id": "json-kid", "private_key_pem": string(pemBytes)})
	k, err = ParseClientKey(jsonBytes, "")
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if k.KeyID() != "json-kid" {
		t.Fatalf("json kid = %q", k.KeyID())
	}

	jk, err := jwk.FromRaw(src.PrivateKey())
	if err != nil {
		t.Fatalf("jwk: %v", err)
	}
	_ = jk.Set(jwk.KeyIDKey, "jwk-kid")
	jwkBytes, err := json.Marshal(jk)
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	k, err = ParseClientKey(jwkBytes, "")
	if err != nil {
		t.Fatalf("jwk: %v", err)
	}
	if k.KeyID() != "jwk-kid" || k.Signer.PublicKey().N.Cmp(src.PublicKey().N) != 0 {
		t.Fatalf("jwk key mismatch")
	}

	pub, err := k.PublicJWK()
	if err != nil {
		t.Fatalf("public jwk: %v", err)
	}
	if pub.KeyID() != "jwk-kid" || pub.KeyUsage() != "sig" || pub.Algorithm().String() != "RS256" {
		t.Fatalf("unexpected public jwk kid=%q use=%q alg=%q", pub.KeyID(), pub.KeyUsage(), pub.Algorithm())
	}
	if _, isPrivate := pub.(jwk.RSAPrivateKey); isPrivate {
		t.Fatalf("published key must not carry the private half")
	}
}

func TestParseClientKeyErrors(t *testing.T) {
	for name, data := range map[string]string{
		"empty":       "",
		"garbage":     "not a key",
		"json no pem": `{"key_id":"k"}`,
	} {
		if _, err := ParseClientKey([]byte(data), "k"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestClientKeyFromEnv(t *testing.T) {
	src, err := NewRSASigner(2048, "")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	t.Setenv("OUTBOUND_KEY_ID", "")
	t.Setenv("OUTBOUND_PRIVATE_KEY_PEM", "")
	if k, err := ClientKeyFromEnv("outbound"); k != nil || err != nil {
		t.Fatalf("expected nothing configured, got %v %v", k, err)
	}
	t.Setenv("OUTBOUND_KEY_ID", "env-kid")
	if _, err := ClientKeyFromEnv("outbound"); err == nil {
		t.Fatalf("expected error when only the kid is set")
	}
	t.Setenv("OUTBOUND_PRIVATE_KEY_PEM", string(pemFor(t, src)))
	k, err := ClientKeyFromEnv("OUTBOUND_")
	if err != nil || k.KeyID() != "env-kid" {
		t.Fatalf("unexpected result %v %v", k, err)
	}
}
