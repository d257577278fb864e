package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testClaims(sub, role string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:       role,
		ProviderID: "prov-1",
	}
}

func TestHS256RoundTrip(t *testing.T) {
	claims := testClaims("user-1", RoleProvider, time.Hour)
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.Role != RoleProvider || parsed.ProviderID != "prov-1" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256(testClaims("user-1", RoleSubject, -time.Hour), "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRS256Verify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	token, err := signRS256(testClaims("user-2", RoleAdmin, time.Hour), key, "kid-1")
	if err != nil {
		t.Fatalf("rs256 Sign failed: %v", err)
	}
	parsed, err := VerifyRS256(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyRS256 failed: %v", err)
	}
	if parsed.Subject != "user-2" || parsed.Role != RoleAdmin {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
}

func TestVerifierResolvesJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jwk{{
			Kty: "RSA",
			Kid: "kid-1",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v := Verifier{Secret: "hs-secret", JWKS: NewJWKSClient(srv.URL, time.Minute)}

	rsToken, err := signRS256(testClaims("user-3", RoleSubject, time.Hour), key, "kid-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bearer := "Bearer " + rsToken
	if c, err := v.Verify(context.Background(), bearer); err != nil || c.Subject != "user-3" {
		t.Fatalf("expected RS256 token to verify, got %+v err=%v", c, err)
	}

	hsToken, err := SignHS256(testClaims("user-4", RoleSubject, time.Hour), "hs-secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if c, err := v.Verify(context.Background(), hsToken); err != nil || c.Subject != "user-4" {
		t.Fatalf("expected HS256 token to verify, got %+v err=%v", c, err)
	}

	unknownKid, err := signRS256(testClaims("user-5", RoleSubject, time.Hour), key, "kid-unknown")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), unknownKid); err == nil {
		t.Fatal("expected unknown kid to be rejected")
	}
}

func signRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}

func TestJWKSClientCachesAndThrottlesRefresh(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jwk{
			{Kty: "RSA", Kid: "kid-1", N: base64.RawURLEncoding.EncodeToString(key.N.Bytes()), E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes())},
			{Kty: "RSA", Kid: "enc-1", Use: "enc", N: "AQAB", E: "AQAB"},
		}})
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewJWKSClient(srv.URL, time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Key(ctx, "kid-1"); err != nil {
		t.Fatalf("Key: %v", err)
	}
	if _, err := c.Key(ctx, "kid-1"); err != nil {
		t.Fatalf("Key: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected one fetch for a cached key, got %d", got)
	}

	if _, err := c.Key(ctx, "enc-1"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("encryption keys must be skipped, got %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("unknown kid refetched inside the cooldown: %d fetches", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Key(ctx, "kid-1"); err != nil {
		t.Fatalf("Key after ttl: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected a refresh after the ttl, got %d fetches", got)
	}
}
