package auth

import (
	"context"
	"strings"
)

// Identity is the customer principal extracted from a verified Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Name  string
	Roles []string
}

// HasRole reports whether the identity carries role, case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// ServiceIdentity is a service principal authenticated by a Google-signed OIDC token.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type identityKey struct{}

type serviceIdentityKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the customer identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

// WithServiceIdentity stores a verified service identity on ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the service identity, if any.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}
