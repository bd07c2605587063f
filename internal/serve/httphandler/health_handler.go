package httphandler

import (
	"net/http"
	"sync"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
)

// DefaultHealthCacheTTL bounds how often the health endpoint probes its
// dependencies. Orchestrators poll aggressively and the answer rarely changes
// within a minute.
const DefaultHealthCacheTTL = 60 * time.Second

// Status indicates whether the service is healthy or not.
type Status string

const (
	// StatusPass indicates that the service is healthy.
	StatusPass Status = "pass"
	// StatusFail indicates that the service is unhealthy.
	StatusFail Status = "fail"
)

// HealthResponse follows the health check response format for HTTP APIs,
// based on the format defined in the draft IETF network working group
// standard, Health Check Response Format for HTTP APIs.
//
// https://datatracker.ietf.org/doc/html/draft-inadarei-api-health-check-06#name-api-health-response
type HealthResponse struct {
	Status    Status            `json:"status"`
	Version   string            `json:"version,omitempty"`
	ServiceID string            `json:"service_id,omitempty"`
	ReleaseID string            `json:"release_id,omitempty"`
	Services  map[string]Status `json:"services,omitempty"`
}

// HealthHandler implements a simple handler that returns the health response.
type HealthHandler struct {
	Version          string
	ServiceID        string
	ReleaseID        string
	DBConnectionPool db.DBConnectionPool
	Producer         events.Producer
	CacheTTL         time.Duration

	mu       sync.Mutex
	cached   *HealthResponse
	cachedAt time.Time
}

// ServeHTTP implements the http.Handler interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.response(r)

	// If any of the services are unhealthy, return a 503 Service Unavailable status.
	// This signals to the orchestrator that the service is not healthy.
	if response.Status == StatusFail {
		httpjson.RenderStatus(w, http.StatusServiceUnavailable, response, httpjson.JSON)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, response, httpjson.JSON)
}

func (h *HealthHandler) response(r *http.Request) *HealthResponse {
	ttl := h.CacheTTL
	if ttl <= 0 {
		ttl = DefaultHealthCacheTTL
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cached != nil && time.Since(h.cachedAt) < ttl {
		return h.cached
	}

	ctx := r.Context()

	dbStatus, responseStatus := StatusPass, StatusPass
	if err := h.DBConnectionPool.Ping(ctx); err != nil {
		dbStatus = StatusFail
		responseStatus = StatusFail
	}

	services := map[string]Status{
		"database": dbStatus,
	}

	if h.Producer != nil && h.Producer.BrokerType() == events.KafkaEventBrokerType {
		eventBrokerStatus := StatusPass
		if err := h.Producer.Ping(ctx); err != nil {
			eventBrokerStatus = StatusFail
			responseStatus = StatusFail
		}
		services["kafka"] = eventBrokerStatus
	}

	h.cached = &HealthResponse{
		Status:    responseStatus,
		Version:   h.Version,
		ServiceID: h.ServiceID,
		ReleaseID: h.ReleaseID,
		Services:  services,
	}
	h.cachedAt = time.Now()

	return h.cached
}
