package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

const (
	testKeyID    = "test-key-1"
	testIssuer   = "https://tenant.example.com/"
	testAudience = "https://api.pizza42.example"
)

// testIdP はテスト用のJWKSエンドポイントと署名鍵を保持する。
type testIdP struct {
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key pair: %v", err)
	}
	return key
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()

	p := &testIdP{key: generateKey(t), kid: testKeyID}
	p.status.Store(http.StatusOK)

	key, err := jwk.Import(&p.key.PublicKey)
	if err != nil {
		t.Fatalf("failed to create JWK from public key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, p.kid); err != nil {
		t.Fatalf("failed to set key ID: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		t.Fatalf("failed to set algorithm: %v", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		t.Fatalf("failed to set key usage: %v", err)
	}

	keySet := jwk.NewSet()
	if err := keySet.AddKey(key); err != nil {
		t.Fatalf("failed to add key to set: %v", err)
	}
	body, err := json.Marshal(keySet)
	if err != nil {
		t.Fatalf("failed to marshal key set: %v", err)
	}

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.hits.Add(1)
		status := int(p.status.Load())
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(p.server.Close)

	return p
}

func (p *testIdP) keySet(requestsPerMinute int) *KeySet {
	return NewKeySet(KeySetConfig{
		JWKSURL:           p.server.URL,
		HTTPClient:        p.server.Client(),
		RequestsPerMinute: requestsPerMinute,
	})
}

func (p *testIdP) verifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(p.keySet(5), VerifierConfig{Issuer: testIssuer, Audience: testAudience})
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}
	return v
}

// validClaims は検証を通過するクレームを返す。
func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "auth0|user-1",
		"scope": "openid profile write:order",
		"iat":   time.Now().Add(-time.Minute).Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func (p *testIdP) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	return signWith(t, p.key, p.kid, claims)
}

func signWith(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
