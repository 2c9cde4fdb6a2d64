package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminGet(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAdmin_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	key := mustUpload(t, s, "payload", "")
	get(s, key)
	get(s, "ffffffffffff")

	rec := adminGet(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `blobdrop_uploads_total{outcome="completed"} 1`)
	assert.Contains(t, body, `blobdrop_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `blobdrop_lookups_total{result="miss"} 1`)
	assert.Contains(t, body, "blobdrop_store_objects 1")
	assert.Contains(t, body, "blobdrop_store_bytes 7")
	assert.Contains(t, body, `blobdrop_requests_total{code="200",route="upload"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestAdmin_Live(t *testing.T) {
	s := newTestServer(t, nil)
	rec := adminGet(s, "/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestAdmin_ReadyFollowsLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, adminGet(s, "/ready").Code)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, http.StatusOK, adminGet(s, "/ready").Code)

	cancel()
	<-s.Done()
	assert.Equal(t, http.StatusServiceUnavailable, adminGet(s, "/ready").Code)
}

func TestAdmin_Health(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.Max = 4
		c.Build = BuildInfo{Version: "1.2.3", Commit: "abc123"}
	})
	mustUpload(t, s, "hello", "")

	rec := adminGet(s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not listening yet")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-s.Done()
	}()
	require.NoError(t, s.Start(ctx))

	rec = adminGet(s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status     HealthStatus `json:"status"`
		Version    string       `json:"version"`
		Commit     string       `json:"commit"`
		Components map[string]struct {
			Status  ComponentStatus `json:"status"`
			Details StoreDetails    `json:"details"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, "abc123", health.Commit)
	assert.Equal(t, ComponentStatusUp, health.Components["listener"].Status)

	st := health.Components["store"]
	assert.Equal(t, ComponentStatusUp, st.Status)
	assert.Equal(t, 1, st.Details.Objects)
	assert.Equal(t, 4, st.Details.Capacity)
	assert.Equal(t, int64(5), st.Details.Bytes)
	assert.InDelta(t, 25.0, st.Details.PercentageUsed, 0.001)
}

func TestAdmin_ServedOnOwnListener(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.AdminAddr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	defer func() {
		cancel()
		<-s.Done()
	}()

	// The public listener never exposes admin routes.
	resp, err := http.Get(baseURL(s) + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, notFoundBody, string(body))
}

func TestAdmin_BindErrorStopsServer(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	s := newTestServer(t, func(c *Config) { c.AdminAddr = taken.Addr().String() })

	err = s.Start(context.Background())
	require.Error(t, err)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("server not marked done after admin bind failure")
	}
	assert.Equal(t, err, s.Wait())
}

func TestDetermineOverallHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]ComponentHealth
		want       HealthStatus
	}{
		{
			name:       "all up",
			components: map[string]ComponentHealth{"a": {Status: ComponentStatusUp}, "b": {Status: ComponentStatusUp}},
			want:       HealthStatusHealthy,
		},
		{
			name:       "one degraded",
			components: map[string]ComponentHealth{"a": {Status: ComponentStatusUp}, "b": {Status: ComponentStatusDegraded}},
			want:       HealthStatusDegraded,
		},
		{
			name:       "one down",
			components: map[string]ComponentHealth{"a": {Status: ComponentStatusDown}, "b": {Status: ComponentStatusDegraded}},
			want:       HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineOverallHealth(tt.components))
		})
	}
}
