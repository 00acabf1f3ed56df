package services

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/atelier-noir/api/internal/domain"
)

// textSanitizer strips markup from free-text checkout fields.
type textSanitizer struct {
	policy *bluemonday.Policy
}

func newTextSanitizer() textSanitizer {
	return textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s textSanitizer) clean(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
}

func (s textSanitizer) address(a domain.Address) domain.Address {
	return domain.Address{
		Recipient:  s.clean(a.Recipient),
		Line1:      s.clean(a.Line1),
		Line2:      s.clean(a.Line2),
		City:       s.clean(a.City),
		State:      s.clean(a.State),
		PostalCode: s.clean(a.PostalCode),
		Country:    strings.ToUpper(s.clean(a.Country)),
		Phone:      s.clean(a.Phone),
	}
}
