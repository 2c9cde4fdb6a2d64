package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Commit     string                     `json:"commit,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status  ComponentStatus `json:"status"`
	Message string          `json:"message,omitempty"`
	Details interface{}     `json:"details,omitempty"`
}

// StoreDetails reports object store occupancy.
type StoreDetails struct {
	Objects        int     `json:"objects"`
	Capacity       int     `json:"capacity"`
	Bytes          int64   `json:"bytes"`
	PercentageUsed float64 `json:"percentage_used"`
	MaxAgeSeconds  float64 `json:"max_age_seconds,omitempty"`
}

// HandleHealth provides a detailed health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth()

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(health)
}

// HandleReady reports whether the public listener accepts uploads.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !s.accepting() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "not_ready",
			"message": "server not listening",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleLive provides a liveness probe (is the process running?)
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
	})
}

// accepting is true between a successful Start and the beginning of
// shutdown.
func (s *Server) accepting() bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return started && s.lifeCtx.Err() == nil
}

func (s *Server) checkHealth() Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.cfg.Build.Version,
		Commit:     s.cfg.Build.Commit,
		Components: make(map[string]ComponentHealth),
	}

	health.Components["listener"] = s.checkListenerHealth()
	health.Components["store"] = s.checkStoreHealth()
	health.Status = determineOverallHealth(health.Components)
	return health
}

func (s *Server) checkListenerHealth() ComponentHealth {
	if !s.accepting() {
		return ComponentHealth{Status: ComponentStatusDown, Message: "not accepting connections"}
	}
	msg := "listening"
	if addr := s.Addr(); addr != nil {
		msg = "listening on " + addr.String()
	}
	return ComponentHealth{Status: ComponentStatusUp, Message: msg}
}

// checkStoreHealth reports occupancy. A full store is normal operation
// (the oldest entry makes room), so it never degrades the status.
func (s *Server) checkStoreHealth() ComponentHealth {
	objects := s.store.Len()
	capacity := s.store.Cap()

	return ComponentHealth{
		Status:  ComponentStatusUp,
		Message: "store healthy",
		Details: StoreDetails{
			Objects:        objects,
			Capacity:       capacity,
			Bytes:          s.store.Bytes(),
			PercentageUsed: float64(objects) / float64(capacity) * 100,
			MaxAgeSeconds:  s.store.MaxAge().Seconds(),
		},
	}
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var (
		downCount     int
		degradedCount int
	)

	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	if downCount > 0 {
		return HealthStatusUnhealthy
	}
	if degradedCount > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
