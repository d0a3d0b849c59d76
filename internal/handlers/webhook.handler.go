package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/services"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
	"github.com/nimasrn/credit-topup/pkg/logger"
)

type WebhookService interface {
	Handle(ctx context.Context, raw []byte, signature string) (*services.SettlementResult, error)
}

// DefaultWebhookTimeout bounds one delivery when no timeout is configured.
const DefaultWebhookTimeout = 15 * time.Second

type WebhookHandler struct {
	svc     WebhookService
	timeout time.Duration
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/paystack", h.Paystack)
}

// NewWebhookHandler bounds each delivery by timeout. It must stay below the
// server's request timeout so a slow gateway ends in a 503 from the service
// rather than in the middleware's timeout response.
func NewWebhookHandler(svc WebhookService, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookHandler{svc: svc, timeout: timeout}
}

// Paystack acknowledges a gateway notification. 2xx stops redelivery, 4xx is
// a permanent rejection and 5xx asks the gateway to retry.
func (h *WebhookHandler) Paystack(ctx *xhttp.RequestCtx) {
	// the body is handed over untouched: the signature covers these bytes
	raw := append([]byte(nil), ctx.PostBody()...)
	sig := string(ctx.Request.Header.Peek(gateway.SignatureHeader))

	// detached from the connection so a settlement in flight is not cut off
	// by server shutdown, only by its own deadline
	hctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.svc.Handle(hctx, raw, sig)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	logger.Debug("Webhook handled",
		"reference", res.Record.Reference, "tenant_id", res.Record.TenantID,
		"outcome", res.Outcome.String(), "request_id", xhttp.RequestID(ctx))
	writeSuccess(ctx, "ok", nil)
}
