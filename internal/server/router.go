package server

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// notFoundBody answers every lookup miss and every rejected request, so a
// wrong method cannot be told apart from a missing key.
const notFoundBody = "404 - not found"

type route int

const (
	routeRejected route = iota
	routeUpload
	routeLookup
)

func (r route) String() string {
	switch r {
	case routeUpload:
		return "upload"
	case routeLookup:
		return "lookup"
	default:
		return "rejected"
	}
}

// Handler returns the public HTTP handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = http.HandlerFunc(s.route)
	if len(s.cfg.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", HeaderContentTypeHint},
			MaxAge:         300,

			// Preflights fall through to route and get the usual 404.
			OptionsPassthrough: true,
		})(handler)
	}
	handler = securityHeadersMiddleware(handler)
	handler = middleware.Recoverer(handler)
	handler = s.loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// classify decides what a request is allowed to do. Only a POST to the
// exact secret path uploads; the secret path is never a lookup.
func (s *Server) classify(r *http.Request) route {
	secretPath := s.isSecretPath(r.URL.EscapedPath())

	switch r.Method {
	case http.MethodPost:
		if secretPath {
			return routeUpload
		}
	case http.MethodGet, http.MethodHead:
		if !secretPath {
			return routeLookup
		}
	}
	return routeRejected
}

// isSecretPath compares the escaped request path with the escaped secret.
func (s *Server) isSecretPath(escapedPath string) bool {
	return subtle.ConstantTimeCompare([]byte(escapedPath), []byte(s.secretPath)) == 1
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch s.classify(r) {
	case routeUpload:
		if s.limiter != nil && !s.limiter.allow(getClientIP(r)) {
			s.metrics.RecordRateLimited()
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		s.handleUpload(w, r)
	case routeLookup:
		s.handleLookup(w, r)
	default:
		writeNotFound(w)
	}
}

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundBody)
}
