package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		method string
		target string
		want   route
	}{
		{http.MethodPost, "/" + testSecret, routeUpload},
		{http.MethodPost, "/other", routeRejected},
		{http.MethodPost, "/", routeRejected},
		{http.MethodPost, "/" + testSecret + "/extra", routeRejected},
		{http.MethodGet, "/" + testSecret, routeRejected},
		{http.MethodHead, "/" + testSecret, routeRejected},
		{http.MethodGet, "/0123456789ab", routeLookup},
		{http.MethodHead, "/0123456789ab", routeLookup},
		{http.MethodGet, "/", routeLookup},
		{http.MethodPut, "/" + testSecret, routeRejected},
		{http.MethodDelete, "/0123456789ab", routeRejected},
		{http.MethodOptions, "/0123456789ab", routeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			assert.Equal(t, tt.want, s.classify(req))
		})
	}
}

func TestClassify_EscapedSecret(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.Secret = "drop box" })

	req := httptest.NewRequest(http.MethodPost, "/drop%20box", nil)
	assert.Equal(t, routeUpload, s.classify(req))

	req = httptest.NewRequest(http.MethodPost, "/dropbox", nil)
	assert.Equal(t, routeRejected, s.classify(req))
}

func TestRejectedRequestsAreNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/elsewhere", strings.NewReader("data")),
		httptest.NewRequest(http.MethodGet, "/"+testSecret, nil),
		httptest.NewRequest(http.MethodPut, "/"+testSecret, strings.NewReader("data")),
		httptest.NewRequest(http.MethodGet, "/0123456789ab", nil),
		httptest.NewRequest(http.MethodGet, "/not-a-key", nil),
	} {
		rec := serve(s, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", req.Method, req.URL.Path)
		assert.Equal(t, notFoundBody, rec.Body.String())
	}
	assert.Equal(t, 0, s.Store().Len(), "rejected uploads must not store anything")
}

func TestLookup_Head(t *testing.T) {
	s := newTestServer(t, nil)
	key := mustUpload(t, s, "hello world", "text/plain")

	rec := serve(s, httptest.NewRequest(http.MethodHead, "/"+key, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len("hello world")), rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())

	rec = serve(s, httptest.NewRequest(http.MethodHead, "/ffffffffffff", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(s, "missing")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(s, "missing")
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(HeaderRequestID, "client-chosen")
	rec = serve(s, req)
	assert.Equal(t, "client-chosen", rec.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
	rec = serve(s, req)
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.CORSOrigins = []string{"https://app.example"} })
	key := mustUpload(t, s, "shared", "")

	req := httptest.NewRequest(http.MethodGet, "/"+key, nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/"+key, nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightIsNotFound(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.CORSOrigins = []string{"https://app.example"} })

	for _, target := range []string{"/" + testSecret, "/0123456789ab"} {
		req := httptest.NewRequest(http.MethodOptions, target, nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		rec := serve(s, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Equal(t, notFoundBody, rec.Body.String())
	}
}

func TestUploadRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.UploadRate = 2 })

	mustUpload(t, s, "one", "")
	mustUpload(t, s, "two", "")

	rec := serve(s, uploadRequest("three", ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1.0, counterValue(t, s.metrics, "blobdrop_uploads_rate_limited_total", nil))

	// A limited client still cannot learn the secret from a wrong path.
	rec = serve(s, httptest.NewRequest(http.MethodPost, "/guess", strings.NewReader("x")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Lookups are never limited.
	rec = get(s, "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
