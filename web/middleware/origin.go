package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// SameOrigin reports whether a browser request comes from a page served by this
// host. Requests without an Origin header are not from a cross-site page.
func SameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
