// Package health exposes the liveness and readiness probe endpoints.
package health

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler manages health check endpoints.
type Handler struct {
	recordDir string
}

// NewHandler creates a health check handler. recordDir is probed for
// writability on readiness.
func NewHandler(recordDir string) *Handler {
	return &Handler{recordDir: recordDir}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is alive,
// with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only when the replay
// storage directory is writable; 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	checks := map[string]string{
		"replay_storage": h.checkStorage(),
	}

	status, code := "ready", http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkStorage() string {
	if h.recordDir == "" {
		return "healthy"
	}
	if err := os.MkdirAll(h.recordDir, 0o755); err != nil {
		return "unhealthy"
	}
	probe, err := os.CreateTemp(h.recordDir, ".readyz-*")
	if err != nil {
		return "unhealthy"
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return "healthy"
}
