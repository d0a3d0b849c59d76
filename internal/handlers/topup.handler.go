package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/credit-topup/internal/auth"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/internal/services"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
)

type TopupService interface {
	Initiate(ctx context.Context, id model.Identity, p model.TopupInitiateRequest) (*model.TopupInitiateResult, error)
	Verify(ctx context.Context, id model.Identity, tenantID, reference string) (*model.TopupRecord, error)
	Get(ctx context.Context, id model.Identity, tenantID, reference string) (*model.TopupRecord, error)
	Balance(ctx context.Context, id model.Identity, tenantID string) (*model.CreditBalance, error)
	Ledger(ctx context.Context, id model.Identity, f repository.LedgerFilter) ([]*model.CreditLedgerEntry, int64, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, apiKey string) (model.Identity, error)
}

type TopupHandler struct {
	svc      TopupService
	identity IdentityResolver
}

func RegisterTopupRoutes(e *router.Group, h *TopupHandler) {
	e.POST("/topups", h.Initiate)
	e.GET("/tenants/{tenantId}/topups/{reference}/verify", h.Verify)
	e.GET("/tenants/{tenantId}/topups/{reference}", h.Get)
	e.GET("/tenants/{tenantId}/credits", h.Balance)
	e.GET("/tenants/{tenantId}/ledger", h.Ledger)
}

func NewTopupHandler(svc TopupService, identity IdentityResolver) *TopupHandler {
	return &TopupHandler{
		svc:      svc,
		identity: identity,
	}
}

// initiateRequest accepts churchId, the name existing clients send, and
// tenantId as an alias.
type initiateRequest struct {
	ChurchID     string `json:"churchId"`
	TenantID     string `json:"tenantId"`
	BundleID     string `json:"bundleId"`
	Channel      string `json:"channel"`
	BillingEmail string `json:"billingEmail"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *TopupHandler) Initiate(ctx *xhttp.RequestCtx) {
	id, ok := h.authenticate(ctx)
	if !ok {
		return
	}

	var req initiateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	tenantID := req.ChurchID
	if strings.TrimSpace(tenantID) == "" {
		tenantID = req.TenantID
	}

	res, err := h.svc.Initiate(ctx, id, model.TopupInitiateRequest{
		TenantID:     tenantID,
		BundleID:     req.BundleID,
		Channel:      req.Channel,
		BillingEmail: req.BillingEmail,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, "topup initiated", res)
}

func (h *TopupHandler) Verify(ctx *xhttp.RequestCtx) {
	id, ok := h.authenticate(ctx)
	if !ok {
		return
	}
	rec, err := h.svc.Verify(ctx, id, pathParam(ctx, "tenantId"), pathParam(ctx, "reference"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, "topup "+strings.ToLower(rec.Status.String()), rec)
}

func (h *TopupHandler) Get(ctx *xhttp.RequestCtx) {
	id, ok := h.authenticate(ctx)
	if !ok {
		return
	}
	rec, err := h.svc.Get(ctx, id, pathParam(ctx, "tenantId"), pathParam(ctx, "reference"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, "ok", rec)
}

func (h *TopupHandler) Balance(ctx *xhttp.RequestCtx) {
	id, ok := h.authenticate(ctx)
	if !ok {
		return
	}
	b, err := h.svc.Balance(ctx, id, pathParam(ctx, "tenantId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, "ok", b)
}

func (h *TopupHandler) Ledger(ctx *xhttp.RequestCtx) {
	id, ok := h.authenticate(ctx)
	if !ok {
		return
	}

	f := repository.LedgerFilter{
		TenantID: pathParam(ctx, "tenantId"),
		Limit:    queryInt(ctx, "limit"),
		Offset:   queryInt(ctx, "offset"),
	}
	if v := query(ctx, "channel"); v != "" {
		ch, err := model.ParseChannel(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, err.Error())
			return
		}
		f.Channel = &ch
	}

	items, total, err := h.svc.Ledger(ctx, id, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, "ok", listResponse{Items: items, Total: total})
}

// authenticate resolves the caller or writes the failure response.
func (h *TopupHandler) authenticate(ctx *xhttp.RequestCtx) (model.Identity, bool) {
	id, err := h.identity.Resolve(ctx, string(ctx.Request.Header.Peek(auth.HeaderAPIKey)))
	if err == nil {
		return id, true
	}
	if errors.Is(err, auth.ErrMissingCredentials) || errors.Is(err, auth.ErrInvalidCredentials) {
		writeServiceError(ctx, services.NewServiceError(services.KindAuthentication, err))
		return model.Identity{}, false
	}
	writeServiceError(ctx, services.NewServiceError(services.KindTransient, err))
	return model.Identity{}, false
}
