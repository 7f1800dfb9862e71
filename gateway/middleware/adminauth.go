package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminHeader carries the shared admin key.
const AdminHeader = "X-Admin-Key"

// AdminAuth guards the admin surface with a shared key and an optional source
// IP allowlist. An empty key disables the surface entirely.
type AdminAuth struct {
	key        string
	allowedIPs map[string]struct{}
}

// NewAdminAuth builds the guard. allowedIPs empty means any source IP.
func NewAdminAuth(key string, allowedIPs []string) *AdminAuth {
	allowed := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		if trimmed := strings.TrimSpace(ip); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return &AdminAuth{key: strings.TrimSpace(key), allowedIPs: allowed}
}

// Middleware rejects requests missing the key or outside the allowlist.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.key == "" {
			deny(w)
			return
		}
		presented := strings.TrimSpace(r.Header.Get(AdminHeader))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.key)) != 1 {
			deny(w)
			return
		}
		if len(a.allowedIPs) > 0 {
			if _, ok := a.allowedIPs[clientID(r)]; !ok {
				deny(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"admin access denied"}`))
}
