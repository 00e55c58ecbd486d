package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// AllowOrigin builds the websocket upgrader's origin check. "*" allows any
// origin; requests without an Origin header (non-browser clients) pass.
func AllowOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = normalizeOrigin(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[normalizeOrigin(origin)]
		return ok
	}
}

func normalizeOrigin(o string) string {
	o = strings.TrimSpace(o)
	if o == "" || o == "*" {
		return o
	}
	u, err := url.Parse(o)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(o, "/"))
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
