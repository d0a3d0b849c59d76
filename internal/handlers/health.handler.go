package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
	"github.com/nimasrn/credit-topup/pkg/logger"
)

type HealthService interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps    map[string]HealthService
	timeout time.Duration
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

// NewHealthHandler checks every named dependency on each probe.
func NewHealthHandler(deps map[string]HealthService) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		timeout: 2 * time.Second,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	// RequestCtx only signals server shutdown, so probes get their own deadline
	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	for name, dep := range h.deps {
		if err := dep.Ping(c); err != nil {
			logger.Warn("Health check failed", "dependency", name, "error", err)
			ctx.Response.SetStatusCode(xhttp.StatusServiceUnavailable)
			ctx.Response.SetBodyString(name + " unavailable")
			return
		}
	}
	ctx.Response.SetBodyString("success")
}
