package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/stencilflow/stencilflow/internal/identity"
	obscontext "github.com/stencilflow/stencilflow/internal/observability/context"
)

// GetRateLimitIdentifier returns "user:<id>" for authenticated requests and
// "ip:<addr>" otherwise.
func GetRateLimitIdentifier(r *http.Request) string {
	if id, ok := identity.FromContext(r.Context()); ok {
		return "user:" + id.UserID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if ip := obscontext.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Key builds the storage key for a profile and caller identifier.
func Key(prefix, profile, identifier string) string {
	if prefix == "" {
		return profile + ":" + identifier
	}
	return prefix + ":" + profile + ":" + identifier
}
