package admission

import (
	"net"
	"net/http"
	"strings"

	"admission/internal/models"
)

// KeyFunc resolves the client identity a request is rate limited under.
type KeyFunc func(r *http.Request) string

// TokenValidator reports whether a bearer token belongs to a known client.
type TokenValidator func(token string) bool

// KnownKeys accepts tokens that match an enabled configured key.
func KnownKeys(keys []models.APIKey) TokenValidator {
	return func(token string) bool {
		for i := range keys {
			if keys[i].Enabled && keys[i].Matches(token) {
				return true
			}
		}
		return false
	}
}

// ClientKey returns the default KeyFunc. A bearer token identifies a client
// across addresses only when valid accepts it; any other token is ignored
// and the peer address is used, so minting new tokens does not mint new
// quotas. Proxy headers are only honoured when trustProxy is set.
func ClientKey(trustProxy bool, valid TokenValidator) KeyFunc {
	return func(r *http.Request) string {
		if token := bearerToken(r); token != "" && valid != nil && valid(token) {
			return "token:" + models.HashAPIKey(token)[:16]
		}
		return "ip:" + clientIP(r, trustProxy)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// clientIP extracts the client IP from the request, checking proxy headers
// when they are trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
