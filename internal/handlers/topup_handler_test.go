package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nimasrn/credit-topup/internal/auth"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/internal/services"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

var testIdentity = model.Identity{UserID: "u1", TenantID: "T1"}

type MockTopupService struct {
	mock.Mock
}

func (m *MockTopupService) Initiate(ctx context.Context, id model.Identity, p model.TopupInitiateRequest) (*model.TopupInitiateResult, error) {
	args := m.Called(ctx, id, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TopupInitiateResult), args.Error(1)
}

func (m *MockTopupService) Verify(ctx context.Context, id model.Identity, tenantID, reference string) (*model.TopupRecord, error) {
	args := m.Called(ctx, id, tenantID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TopupRecord), args.Error(1)
}

func (m *MockTopupService) Get(ctx context.Context, id model.Identity, tenantID, reference string) (*model.TopupRecord, error) {
	args := m.Called(ctx, id, tenantID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TopupRecord), args.Error(1)
}

func (m *MockTopupService) Balance(ctx context.Context, id model.Identity, tenantID string) (*model.CreditBalance, error) {
	args := m.Called(ctx, id, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditBalance), args.Error(1)
}

func (m *MockTopupService) Ledger(ctx context.Context, id model.Identity, f repository.LedgerFilter) ([]*model.CreditLedgerEntry, int64, error) {
	args := m.Called(ctx, id, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.CreditLedgerEntry), args.Get(1).(int64), args.Error(2)
}

type MockIdentityResolver struct {
	mock.Mock
}

func (m *MockIdentityResolver) Resolve(ctx context.Context, apiKey string) (model.Identity, error) {
	args := m.Called(ctx, apiKey)
	return args.Get(0).(model.Identity), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func authedContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := setupTestContext(method, path, body)
	ctx.Request.Header.Set(auth.HeaderAPIKey, "key-1")
	return ctx
}

func newTopupHandler() (*TopupHandler, *MockTopupService, *MockIdentityResolver) {
	svc := new(MockTopupService)
	ids := new(MockIdentityResolver)
	ids.On("Resolve", mock.Anything, "key-1").Return(testIdentity, nil).Maybe()
	ids.On("Resolve", mock.Anything, "").Return(model.Identity{}, auth.ErrMissingCredentials).Maybe()
	return NewTopupHandler(svc, ids), svc, ids
}

func decodeEnvelope(t *testing.T, ctx *xhttp.RequestCtx) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	return body
}

func TestTopupHandler_Initiate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h, svc, _ := newTopupHandler()

		svc.On("Initiate", mock.Anything, testIdentity, model.TopupInitiateRequest{
			TenantID: "T1",
			BundleID: "sms-10000",
			Channel:  "sms",
		}).Return(&model.TopupInitiateResult{AuthorizationURL: "https://checkout.test/r1", Reference: "r1"}, nil)

		ctx := authedContext("POST", "/api/v1/topups", []byte(`{"churchId":"T1","bundleId":"sms-10000","channel":"sms"}`))
		h.Initiate(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		body := decodeEnvelope(t, ctx)
		assert.Equal(t, "success", body["status"])
		data := body["data"].(map[string]any)
		assert.Equal(t, "https://checkout.test/r1", data["authorizationUrl"])
		assert.Equal(t, "r1", data["reference"])
		svc.AssertExpectations(t)
	})

	t.Run("tenantId alias", func(t *testing.T) {
		h, svc, _ := newTopupHandler()
		svc.On("Initiate", mock.Anything, testIdentity, mock.MatchedBy(func(p model.TopupInitiateRequest) bool {
			return p.TenantID == "T1" && p.BillingEmail == "a@b.org"
		})).Return(&model.TopupInitiateResult{Reference: "r2"}, nil)

		ctx := authedContext("POST", "/api/v1/topups", []byte(`{"tenantId":"T1","bundleId":"sms-1000","channel":"sms","billingEmail":"a@b.org"}`))
		h.Initiate(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		h, svc, _ := newTopupHandler()

		ctx := authedContext("POST", "/api/v1/topups", []byte("invalid json"))
		h.Initiate(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		body := decodeEnvelope(t, ctx)
		assert.Equal(t, "error", body["status"])
		assert.Contains(t, body["message"], "invalid JSON")
		svc.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing api key", func(t *testing.T) {
		h, svc, _ := newTopupHandler()

		ctx := setupTestContext("POST", "/api/v1/topups", []byte(`{"churchId":"T1"}`))
		h.Initiate(ctx)

		assert.Equal(t, 401, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("identity store down", func(t *testing.T) {
		svc := new(MockTopupService)
		ids := new(MockIdentityResolver)
		ids.On("Resolve", mock.Anything, "key-1").Return(model.Identity{}, errors.New("connection refused"))
		h := NewTopupHandler(svc, ids)

		ctx := authedContext("POST", "/api/v1/topups", []byte(`{"churchId":"T1"}`))
		h.Initiate(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
	})
}

func TestTopupHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", services.NewServiceError(services.KindValidation, errors.New("bundleId is required")), 400, "bundleId is required"},
		{"forbidden", services.NewServiceError(services.KindAuthorization, errors.New("not allowed to manage tenant T1")), 403, "not allowed to manage tenant T1"},
		{"not found", services.NewServiceError(services.KindNotFound, errors.New("bundle not found")), 404, "bundle not found"},
		{"integration", services.NewServiceError(services.KindIntegration, errors.New("payment gateway returned no reference")), 500, "payment gateway returned no reference"},
		{"transient", services.NewServiceError(services.KindTransient, errors.New("i/o timeout")), 503, "temporarily unavailable, retry later"},
		{"configuration", services.NewServiceError(services.KindConfiguration, errors.New("secret missing")), 500, "internal error"},
		{"unclassified", errors.New("boom"), 500, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc, _ := newTopupHandler()
			svc.On("Initiate", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			ctx := authedContext("POST", "/api/v1/topups", []byte(`{"churchId":"T1","bundleId":"x","channel":"sms"}`))
			h.Initiate(ctx)

			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			body := decodeEnvelope(t, ctx)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestTopupHandler_Verify(t *testing.T) {
	h, svc, _ := newTopupHandler()
	svc.On("Verify", mock.Anything, testIdentity, "T1", "r1").
		Return(&model.TopupRecord{Reference: "r1", TenantID: "T1", Status: model.TopupStatusPaid, Units: 10000}, nil)

	ctx := authedContext("GET", "/api/v1/tenants/T1/topups/r1/verify", nil)
	ctx.SetUserValue("tenantId", "T1")
	ctx.SetUserValue("reference", "r1")
	h.Verify(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	body := decodeEnvelope(t, ctx)
	assert.Equal(t, "topup paid", body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "PAID", data["status"])
	assert.Equal(t, float64(10000), data["units"])
	svc.AssertExpectations(t)
}

func TestTopupHandler_Get(t *testing.T) {
	h, svc, _ := newTopupHandler()
	svc.On("Get", mock.Anything, testIdentity, "T1", "missing").
		Return(nil, services.NewServiceError(services.KindNotFound, repository.ErrTopupNotFound))

	ctx := authedContext("GET", "/api/v1/tenants/T1/topups/missing", nil)
	ctx.SetUserValue("tenantId", "T1")
	ctx.SetUserValue("reference", "missing")
	h.Get(ctx)

	assert.Equal(t, 404, ctx.Response.StatusCode())
	svc.AssertExpectations(t)
}

func TestTopupHandler_Balance(t *testing.T) {
	h, svc, _ := newTopupHandler()
	svc.On("Balance", mock.Anything, testIdentity, "T1").
		Return(&model.CreditBalance{TenantID: "T1", SMSCredits: 10000, WhatsAppCredits: 500}, nil)

	ctx := authedContext("GET", "/api/v1/tenants/T1/credits", nil)
	ctx.SetUserValue("tenantId", "T1")
	h.Balance(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	data := decodeEnvelope(t, ctx)["data"].(map[string]any)
	assert.Equal(t, float64(10000), data["smsCredits"])
	assert.Equal(t, float64(500), data["whatsappCredits"])
}

func TestTopupHandler_Ledger(t *testing.T) {
	t.Run("filters", func(t *testing.T) {
		h, svc, _ := newTopupHandler()
		sms := model.ChannelSMS
		svc.On("Ledger", mock.Anything, testIdentity, repository.LedgerFilter{TenantID: "T1", Channel: &sms, Limit: 10, Offset: 5}).
			Return([]*model.CreditLedgerEntry{{ID: "e1", PaymentReference: "r1", Units: 10000}}, int64(6), nil)

		ctx := authedContext("GET", "/api/v1/tenants/T1/ledger?channel=sms&limit=10&offset=5", nil)
		ctx.SetUserValue("tenantId", "T1")
		h.Ledger(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		data := decodeEnvelope(t, ctx)["data"].(map[string]any)
		assert.Equal(t, float64(6), data["total"])
		assert.Len(t, data["items"], 1)
		svc.AssertExpectations(t)
	})

	t.Run("bad channel", func(t *testing.T) {
		h, svc, _ := newTopupHandler()

		ctx := authedContext("GET", "/api/v1/tenants/T1/ledger?channel=fax", nil)
		ctx.SetUserValue("tenantId", "T1")
		h.Ledger(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Ledger", mock.Anything, mock.Anything, mock.Anything)
	})
}
