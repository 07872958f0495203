package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// isOriginAllowed accepts requests without an Origin header, origins on
// the allow list, and otherwise only same-host origins.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	originHost := parsed.Hostname()
	if len(allowed) > 0 {
		for _, candidate := range allowed {
			candidate = strings.TrimSuffix(strings.TrimSpace(candidate), "/")
			if candidate == "*" || strings.EqualFold(origin, candidate) || strings.EqualFold(originHost, candidate) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(originHost, hostOnly(r.Host))
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	return strings.Trim(host, "[]")
}
