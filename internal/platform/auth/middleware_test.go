package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestOptionalFirebaseAuth_MapsClaims(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":  []any{"Staff", "admin"},
			"email": "buyer@example.com",
		},
	}}
	authn := NewAuthenticator(verifier)

	var got *Identity
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("verifier received %q", verifier.received)
	}
	if got == nil || got.UID != "uid-123" || got.Email != "buyer@example.com" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if !got.HasRole("staff") || !got.HasRole("ADMIN") {
		t.Fatalf("expected roles, got %v", got.Roles)
	}
}

func TestOptionalFirebaseAuth_PassesAnonymousRequests(t *testing.T) {
	verifier := &stubTokenVerifier{err: errors.New("should not be called")}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Fatal("expected no identity")
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	if !called {
		t.Fatal("expected handler to run")
	}
	if verifier.received != "" {
		t.Fatalf("verifier should not be consulted, got %q", verifier.received)
	}
}

func TestOptionalFirebaseAuth_RejectsInvalidToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")})
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "Bearer broken")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_token" {
		t.Fatalf("expected invalid_token, got %q", code)
	}
}

func TestOptionalFirebaseAuth_AttachesIdentity(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-9", Claims: map[string]any{"role": "customer"}}})

	var got *Identity
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "bearer tok")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.UID != "uid-9" || !got.HasRole("customer") {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		token  string
		ok     bool
	}{
		"valid":        {"Bearer abc", "abc", true},
		"lowercase":    {"bearer abc", "abc", true},
		"empty token":  {"Bearer   ", "", false},
		"other scheme": {"Basic abc", "", false},
		"missing":      {"", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			token, ok := extractBearerToken(tc.header)
			if token != tc.token || ok != tc.ok {
				t.Fatalf("got (%q, %v), want (%q, %v)", token, ok, tc.token, tc.ok)
			}
		})
	}
}
