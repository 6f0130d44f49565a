package gateway

import (
	"net/http"
	"slices"
	"strings"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/telemetry"
)

var (
	corsAllowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
	corsAllowHeaders  = strings.Join([]string{"Content-Type", "Accept", "Authorization", domain.HeaderSessionID, domain.HeaderProtocolVersion, domain.HeaderLastEventID, telemetry.RequestIDHeader}, ", ")
	corsExposeHeaders = strings.Join([]string{domain.HeaderSessionID, domain.HeaderProtocolVersion, telemetry.RequestIDHeader}, ", ")
)

// corsMiddleware allows browser clients from the given origins. "*" allows
// any origin. An empty list disables CORS headers.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	wildcard := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := ""
		switch {
		case wildcard:
			allowed = "*"
		case origin != "" && slices.Contains(origins, origin):
			allowed = origin
			w.Header().Add("Vary", "Origin")
		}
		if allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
