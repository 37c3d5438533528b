package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const defaultHealthTimeout = 2 * time.Second

// HealthChecker reports the state of one dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (map[string]interface{}, error)
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checks  map[string]HealthChecker
	timeout time.Duration
	clock   clock.Clock
	log     logger.Logger
}

// NewHealthHandler creates a HealthHandler probing the named dependencies.
// Nil checkers are skipped.
func NewHealthHandler(checks map[string]HealthChecker, log logger.Logger) *HealthHandler {
	live := make(map[string]HealthChecker, len(checks))
	for name, hc := range checks {
		if hc != nil {
			live[name] = hc
		}
	}
	return &HealthHandler{
		checks:  live,
		timeout: defaultHealthTimeout,
		clock:   clock.System(),
		log:     log,
	}
}

// HealthCheck probes every dependency concurrently.
// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	results := h.performChecks(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	for _, r := range results {
		if r["status"] != "ok" {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": h.clock.Now().UTC(),
		"checks":    results,
	})
}

// ReadinessCheck is HealthCheck; the service is ready once its stores answer.
// GET /ready
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	h.HealthCheck(c)
}

// LivenessCheck reports that the process serves HTTP.
// GET /live
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]map[string]interface{} {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]map[string]interface{}, len(h.checks))

	// checks never fail the group; each failure is reported in its own entry
	g, gctx := errgroup.WithContext(ctx)
	for name, hc := range h.checks {
		name, hc := name, hc
		g.Go(func() error {
			details, err := hc.HealthCheck(gctx)
			if details == nil {
				details = make(map[string]interface{})
			}
			details["status"] = "ok"
			if err != nil {
				details["status"] = "error"
				details["error"] = err.Error()
				h.log.Warn(gctx, "Health check failed",
					logger.String("dependency", name),
					logger.Err(err),
				)
			}
			mu.Lock()
			results[name] = details
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
