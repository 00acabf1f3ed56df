package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/atelier-noir/api/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

var errVerifierUnavailable = errors.New("auth: token verifier not configured")

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase bearer tokens into request identities.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// NewAuthenticator constructs an Authenticator. A nil verifier lets every request through
// anonymously.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
}

// OptionalFirebaseAuth attaches an identity when a valid bearer token is present. A
// missing token passes through anonymously; a present but invalid token is rejected.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok || a == nil || a.verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := a.verify(ctx, token)
			if err != nil {
				writeVerificationError(ctx, w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) verify(ctx context.Context, raw string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, errVerifierUnavailable
	}
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UID:   token.UID,
		Email: claimString(token.Claims, "email"),
		Name:  claimString(token.Claims, "name"),
		Roles: claimRoles(token.Claims, a.roleClaim),
	}, nil
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func claimRoles(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if role := strings.ToLower(strings.TrimSpace(v)); role != "" {
			return []string{role}
		}
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				roles = append(roles, strings.ToLower(strings.TrimSpace(s)))
			}
		}
		return roles
	}
	return nil
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errVerifierUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
	case firebaseauth.IsIDTokenExpired(err):
		httpx.WriteError(ctx, w, httpx.NewError("token_expired", "firebase id token expired", http.StatusUnauthorized))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "firebase id token invalid", http.StatusUnauthorized))
	}
}
