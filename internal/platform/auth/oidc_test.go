package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	testIssuer   = "https://accounts.google.com"
	testAudience = "https://api.example.com/internal"
)

type jwksFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	requests atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     "key1",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "svc-123",
		"email": "ops@example.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func TestJWKSCache_CachesKeysUntilExpiry(t *testing.T) {
	f := newJWKSFixture(t)
	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(f.server.URL, WithJWKSClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		key, err := cache.Key(context.Background(), "key1")
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected rsa public key, got %T", key)
		}
	}
	if got := f.requests.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	now = now.Add(2 * time.Hour)
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if got := f.requests.Load(); got != 2 {
		t.Fatalf("expected refetch after expiry, got %d fetches", got)
	}
}

func TestJWKSCache_UnknownKid(t *testing.T) {
	f := newJWKSFixture(t)
	cache := NewJWKSCache(f.server.URL)

	if _, err := cache.Key(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

func TestRequireOIDC(t *testing.T) {
	f := newJWKSFixture(t)
	validator := NewOIDCValidator(NewJWKSCache(f.server.URL), nil)
	guard := validator.RequireOIDC(testAudience, []string{testIssuer})

	wrongAudience := validClaims()
	wrongAudience["aud"] = "https://other.example.com"
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.com"
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	cases := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"valid bearer", "Authorization", "Bearer " + f.sign(t, validClaims()), http.StatusOK},
		{"valid iap assertion", "X-Goog-Iap-Jwt-Assertion", f.sign(t, validClaims()), http.StatusOK},
		{"missing token", "", "", http.StatusUnauthorized},
		{"wrong audience", "Authorization", "Bearer " + f.sign(t, wrongAudience), http.StatusUnauthorized},
		{"wrong issuer", "Authorization", "Bearer " + f.sign(t, wrongIssuer), http.StatusUnauthorized},
		{"expired", "Authorization", "Bearer " + f.sign(t, expired), http.StatusUnauthorized},
		{"garbage", "Authorization", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var identity *ServiceIdentity
			handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, _ = ServiceIdentityFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/internal/payment-alerts", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status == http.StatusOK && (identity == nil || identity.Subject != "svc-123" || identity.Audience != testAudience) {
				t.Fatalf("unexpected identity %+v", identity)
			}
		})
	}
}

func TestRequireOIDC_UnconfiguredAudience(t *testing.T) {
	validator := NewOIDCValidator(NewJWKSCache("http://127.0.0.1:0"), nil)
	handler := validator.RequireOIDC("", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
