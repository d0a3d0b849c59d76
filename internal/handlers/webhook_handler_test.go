package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) Handle(ctx context.Context, raw []byte, signature string) (*services.SettlementResult, error) {
	args := m.Called(ctx, raw, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SettlementResult), args.Error(1)
}

func TestWebhookHandler_Paystack(t *testing.T) {
	raw := []byte(`{"event":"charge.success","data":{"reference":"r1"}}`)

	t.Run("passes raw body and signature", func(t *testing.T) {
		svc := new(MockWebhookService)
		h := NewWebhookHandler(svc, time.Second)
		svc.On("Handle", mock.Anything, raw, "abc123").Return(&services.SettlementResult{
			Record:  &model.TopupRecord{Reference: "r1", TenantID: "T1", Status: model.TopupStatusPaid},
			Outcome: services.OutcomeCredited,
		}, nil)

		ctx := setupTestContext("POST", "/api/v1/webhooks/paystack", raw)
		ctx.Request.Header.Set(gateway.SignatureHeader, "abc123")
		h.Paystack(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		body := decodeEnvelope(t, ctx)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "ok", body["message"])
		svc.AssertExpectations(t)
	})

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"bad signature", services.NewServiceError(services.KindAuthentication, services.ErrInvalidSignature), 401, "authentication failed"},
		{"missing field", services.NewServiceError(services.KindValidation, errors.New("reference is required")), 400, "reference is required"},
		{"unknown record", services.NewServiceError(services.KindIntegration, errors.New("topup record not found")), 500, "topup record not found"},
		{"gateway down", services.NewServiceError(services.KindTransient, errors.New("timeout")), 503, "temporarily unavailable, retry later"},
		{"secret missing", services.NewServiceError(services.KindConfiguration, services.ErrWebhookSecretMissing), 500, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockWebhookService)
			h := NewWebhookHandler(svc, time.Second)
			svc.On("Handle", mock.Anything, raw, "").Return(nil, tt.err)

			ctx := setupTestContext("POST", "/api/v1/webhooks/paystack", raw)
			h.Paystack(ctx)

			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			body := decodeEnvelope(t, ctx)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

type stalledWebhookService struct{}

func (stalledWebhookService) Handle(ctx context.Context, _ []byte, _ string) (*services.SettlementResult, error) {
	<-ctx.Done()
	return nil, services.NewServiceError(services.KindTransient, ctx.Err())
}

func TestWebhookHandler_SlowDeliveryAsksForRetry(t *testing.T) {
	h := NewWebhookHandler(stalledWebhookService{}, 50*time.Millisecond)

	start := time.Now()
	ctx := setupTestContext("POST", "/api/v1/webhooks/paystack", []byte(`{}`))
	h.Paystack(ctx)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 503, ctx.Response.StatusCode())
	assert.Equal(t, "temporarily unavailable, retry later", decodeEnvelope(t, ctx)["message"])
}
