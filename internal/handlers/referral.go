package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/platform/signedcookie"
	"github.com/atelier-noir/api/internal/services"
)

const defaultReferralParam = "ref"

type effectDispatcher interface {
	Dispatch(ctx context.Context, effects ...services.Effect)
}

// ReferralCapture intercepts page loads carrying a referral token, records first-touch
// attribution in a signed cookie and redirects to the same URL without the token.
type ReferralCapture struct {
	referrals services.ReferralService
	effects   effectDispatcher
	cookie    *signedcookie.Codec
	param     string
}

// NewReferralCapture constructs the capture middleware. effects may be nil, in which case
// click and visit effects are skipped.
func NewReferralCapture(referrals services.ReferralService, effects effectDispatcher, cookie *signedcookie.Codec, param string) *ReferralCapture {
	param = strings.TrimSpace(param)
	if param == "" {
		param = defaultReferralParam
	}
	return &ReferralCapture{
		referrals: referrals,
		effects:   effects,
		cookie:    cookie,
		param:     param,
	}
}

// Middleware returns the capture middleware. Requests without the token pass through.
func (c *ReferralCapture) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || c.referrals == nil || c.cookie == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
				next.ServeHTTP(w, r)
				return
			}
			query := r.URL.Query()
			if !query.Has(c.param) {
				next.ServeHTTP(w, r)
				return
			}
			code := query.Get(c.param)
			c.capture(w, r, code)

			query.Del(c.param)
			clean := *r.URL
			clean.RawQuery = query.Encode()
			clean.Scheme = ""
			clean.Host = ""
			http.Redirect(w, r, clean.RequestURI(), http.StatusFound)
		})
	}
}

func (c *ReferralCapture) capture(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()

	var existing *domain.ReferralAttribution
	var current domain.ReferralAttribution
	if err := c.cookie.Read(r, &current); err == nil {
		existing = &current
	}

	decision, err := c.referrals.Capture(ctx, services.CaptureRequest{
		Code:        code,
		Existing:    existing,
		LandingPath: r.URL.Path,
		Referrer:    r.Referer(),
		ClientIP:    clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil || decision.Action != services.CaptureStore || decision.Attribution == nil {
		return
	}
	if err := c.cookie.Write(w, decision.Attribution, decision.Attribution.ExpiresAt); err != nil {
		return
	}
	if c.effects != nil {
		c.effects.Dispatch(ctx, services.ReferralEffects(c.referrals, decision)...)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
