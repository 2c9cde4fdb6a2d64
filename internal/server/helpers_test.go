package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// newTestServer builds a server around the default config with a small
// store. mutate may adjust the config before validation.
func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Max = 8
	cfg.Secret = testSecret
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(body string, hint string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/"+testSecret, strings.NewReader(body))
	if hint != "" {
		req.Header.Set(HeaderContentTypeHint, hint)
	}
	return req
}

// mustUpload stores body and returns the new key.
func mustUpload(t *testing.T, s *Server, body, hint string) string {
	t.Helper()
	rec := serve(s, uploadRequest(body, hint))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec.Body.String()
}

func get(s *Server, key string) *httptest.ResponseRecorder {
	return serve(s, httptest.NewRequest(http.MethodGet, "/"+key, nil))
}

// counterValue sums the samples of a counter family whose labels include
// every pair in labels.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			matched := 0
			for _, lp := range metric.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}

// errReader fails every read.
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
