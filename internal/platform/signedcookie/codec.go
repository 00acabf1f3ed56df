// Package signedcookie stores small JSON values in HMAC-signed cookies.
package signedcookie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// cookiePath covers both the pages where attribution is captured and the API that consumes it.
const cookiePath = "/"

var (
	// ErrNoCookie is returned when the request carries no cookie with the codec's name.
	ErrNoCookie = errors.New("signedcookie: cookie not present")
	// ErrInvalid is returned for malformed, tampered or undecodable cookies.
	ErrInvalid = errors.New("signedcookie: invalid cookie")
)

// Codec signs and verifies one named cookie. Values are base64url(JSON) "." base64url(HMAC-SHA256).
type Codec struct {
	name   string
	key    []byte
	secure bool
}

// Option customises a Codec.
type Option func(*Codec)

// WithSecure marks written cookies Secure.
func WithSecure(secure bool) Option {
	return func(c *Codec) { c.secure = secure }
}

// New constructs a Codec. The signing key must not be empty.
func New(name string, key []byte, opts ...Option) (*Codec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("signedcookie: cookie name is required")
	}
	if len(key) == 0 {
		return nil, errors.New("signedcookie: signing key is required")
	}
	c := &Codec{name: name, key: append([]byte(nil), key...)}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Name returns the cookie name.
func (c *Codec) Name() string { return c.name }

// Encode returns the signed cookie value for v.
func (c *Codec) Encode(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(c.sign(payload)), nil
}

// Decode verifies value and unmarshals its payload into dst.
func (c *Codec) Decode(value string, dst any) error {
	encPayload, encSig, ok := strings.Cut(value, ".")
	if !ok {
		return ErrInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return ErrInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return ErrInvalid
	}
	if !hmac.Equal(sig, c.sign(payload)) {
		return ErrInvalid
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return ErrInvalid
	}
	return nil
}

// Read loads the cookie from r into dst.
func (c *Codec) Read(r *http.Request, dst any) error {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return ErrNoCookie
	}
	return c.Decode(cookie.Value, dst)
}

// Write sets the cookie to v, expiring at expires.
func (c *Codec) Write(w http.ResponseWriter, v any, expires time.Time) error {
	value, err := c.Encode(v)
	if err != nil {
		return err
	}
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     cookiePath,
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the cookie on the client.
func (c *Codec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     cookiePath,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Codec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
