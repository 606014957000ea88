package daemon

import (
	"net/http"
	"strings"
)

// requireBearer guards a control-API handler with a static bearer token.
// An empty expected token disables the check entirely; loopback-only
// deployments run the API open.
func requireBearer(expected string, next http.HandlerFunc) http.HandlerFunc {
	if expected == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || presented != expected {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
