package observability

import "unicode"

const defaultStringLimit = 256

// sanitizeString drops control characters and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

// SanitizeRoute cleans a route or path before it is logged.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method before it is logged.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds user identifiers written to logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
