package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	service string
	probes  []Probe
	timeout time.Duration
}

func NewHealthHandler(service string, timeout time.Duration, probes ...Probe) *HealthHandler {
	return &HealthHandler{service: service, probes: probes, timeout: timeout}
}

// Health reports 200 when every probe passes and 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := gin.H{
		"status":    "healthy",
		"service":   h.service,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			status[p.Name] = "unhealthy"
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		status[p.Name] = "healthy"
	}
	c.JSON(code, status)
}
