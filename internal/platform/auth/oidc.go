package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/atelier-noir/api/internal/platform/httpx"
)

var (
	// ErrJWKSKeyNotFound is returned when the kid is absent from the key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding failures while refreshing keys.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger is the printf-style logger used for verification failures.
type Logger interface {
	Printf(format string, args ...any)
}

const defaultJWKSRefreshInterval = 15 * time.Minute

// JWKSCache fetches and caches a JSON Web Key Set, honouring Cache-Control max-age.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises the cache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock injects a time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache constructs a cache for url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Keyfunc adapts the cache to jwt-go.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid, refetching once on expiry or an unknown kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys) == 0 || !c.now().Before(c.expiry) {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := parseMaxAge(resp.Header.Get("Cache-Control"))
	if validity <= 0 {
		validity = defaultJWKSRefreshInterval
	}
	c.keys = keys
	c.expiry = c.now().Add(validity)
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// OIDCValidator guards internal routes with Google-signed OIDC or IAP tokens.
type OIDCValidator struct {
	cache  *JWKSCache
	logger Logger
}

// NewOIDCValidator constructs a validator. logger may be nil.
func NewOIDCValidator(cache *JWKSCache, logger Logger) *OIDCValidator {
	return &OIDCValidator{cache: cache, logger: logger}
}

// RequireOIDC rejects requests whose token is not RS256-signed by the key set, issued by one
// of issuers, and addressed to audience.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if audience == "" || v == nil || v.cache == nil {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc verification not configured", http.StatusServiceUnavailable))
				return
			}
			raw := extractOIDCToken(r)
			if raw == "" {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "oidc token missing", http.StatusUnauthorized))
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
				v.logf("auth: oidc verification failed: %v", err)
				if errors.Is(err, ErrJWKSFetchFailed) {
					httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc keys unavailable", http.StatusServiceUnavailable))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc token verification failed", http.StatusUnauthorized))
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
				v.logf("auth: oidc issuer mismatch: %q", issuer)
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc issuer mismatch", http.StatusUnauthorized))
				return
			}
			if !slices.Contains(audienceFromClaims(claims), audience) {
				v.logf("auth: oidc audience mismatch, expected %q", audience)
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc audience mismatch", http.StatusUnauthorized))
				return
			}

			subject, _ := claims["sub"].(string)
			email, _ := claims["email"].(string)
			identity := &ServiceIdentity{Subject: subject, Email: email, Issuer: issuer, Audience: audience}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

func extractOIDCToken(r *http.Request) string {
	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}

func audienceFromClaims(claims jwt.MapClaims) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
