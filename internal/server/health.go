package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

// Status is the result of a health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is a dependency probe. Required checks make the service unhealthy
// when they fail; optional ones only degrade it.
type Check struct {
	Name     string
	Required bool
	Probe    func(ctx context.Context) error
}

// CheckResult is one probe outcome.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  Status                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Uptime  string                 `json:"uptime"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

func registerHealth(r *gin.Engine, service, version string, started time.Time, checks []Check) {
	r.GET("/health", func(c *gin.Context) {
		resp := HealthResponse{
			Status:  StatusHealthy,
			Service: service,
			Version: version,
			Uptime:  time.Since(started).Truncate(time.Second).String(),
		}
		if len(checks) > 0 {
			resp.Checks = make(map[string]CheckResult, len(checks))
		}
		for _, chk := range checks {
			res := runCheck(c.Request.Context(), chk)
			resp.Checks[chk.Name] = res
			switch {
			case res.Status == StatusHealthy:
			case chk.Required:
				resp.Status = StatusUnhealthy
			case resp.Status == StatusHealthy:
				resp.Status = StatusDegraded
			}
		}

		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
}

func runCheck(ctx context.Context, chk Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := chk.Probe(ctx)
	res := CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}
