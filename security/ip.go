package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the address of the caller.
//
// With trustProxy unset only RemoteAddr is used. With it set, X-Forwarded-For
// is read from the right, skipping trustedProxyCount hops (at least one), then
// X-Real-IP. Enable it only behind a proxy that overwrites these headers.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor picks the client entry of an X-Forwarded-For chain
// "client, proxy1, ..., proxyN" given how many trailing hops are ours.
func forwardedFor(header string, trustedProxyCount int) string {
	if header == "" {
		return ""
	}
	hops := strings.Split(header, ",")
	if trustedProxyCount < 1 {
		trustedProxyCount = 1
	}
	idx := len(hops) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}
	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
