package middleware

import (
	"net/http"
	"slices"
	"strings"
)

var (
	corsMethods        = []string{http.MethodGet, http.MethodPost, http.MethodPut}
	corsRequestHeaders = []string{"Content-Type", RequestIDHeader}
	// Retry-After lets the desk console back off a throttled walk-in.
	corsExposedHeaders = []string{RequestIDHeader, "Retry-After"}
)

// corsPolicy is the origin allowlist for the desk console and the
// waiting-room displays. A "*" entry admits any origin.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]bool
}

func newCORSPolicy(allowedOrigins []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]bool, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		switch origin = strings.TrimSpace(origin); origin {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[origin] = true
		}
	}
	return p
}

func (p corsPolicy) admits(origin string) bool {
	return origin != "" && (p.anyOrigin || p.origins[origin])
}

// CORS echoes admitted origins and answers preflights itself. A preflight
// from an unknown origin is refused with 403, and one asking for a method
// the API does not serve with 405; neither reaches the handler.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			requested := r.Header.Get("Access-Control-Request-Method")
			preflight := r.Method == http.MethodOptions && origin != "" && requested != ""
			w.Header().Add("Vary", "Origin")

			if !policy.admits(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)

			if !preflight {
				w.Header().Set("Access-Control-Expose-Headers", strings.Join(corsExposedHeaders, ", "))
				next.ServeHTTP(w, r)
				return
			}
			if !slices.Contains(corsMethods, requested) {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(corsRequestHeaders, ", "))
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
