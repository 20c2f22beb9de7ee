package security

import (
	"net/http"
	"strings"
)

// SetSecurityHeaders sets the headers every credential-bearing JSON response
// carries. Token responses must not be cached (RFC 6749 section 5.1).
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")

	if strings.HasPrefix(issuer, "https://") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}
