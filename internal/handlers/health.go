package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// HealthHandler serves /v1/health with per-component status.
type HealthHandler struct {
	checks map[string]CheckFunc
	logger *logrus.Logger
}

// NewHealthHandler creates the handler from named dependency checks.
func NewHealthHandler(checks map[string]CheckFunc, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthHandler{checks: checks, logger: logger}
}

// RegisterRoutes attaches the health route to a router group.
func (h *HealthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.Health)
}

// Health handles GET /v1/health. Degraded dependencies report 503.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := make(gin.H, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WithError(err).WithField("component", name).Warn("Health check failed")
			components[name] = "unhealthy"
			healthy = false
			continue
		}
		components[name] = "healthy"
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
