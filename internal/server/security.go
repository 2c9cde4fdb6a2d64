// security.go - Security headers for the public surface
package server

import "net/http"

// securityHeadersMiddleware adds security headers to all responses
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Serve stored objects exactly as the uploader labelled them.
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Keys are capabilities; don't leak them through Referer.
		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
