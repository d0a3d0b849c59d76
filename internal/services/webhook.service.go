package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/prom"
)

var (
	ErrWebhookSecretMissing = errors.New("webhook secret is not configured")
	ErrInvalidSignature     = errors.New("webhook signature mismatch")
)

type WebhookConfig struct {
	Secret string
}

// WebhookService authenticates gateway notifications and settles the
// referenced top-up against a fresh verification. The payload's own status
// is never trusted.
type WebhookService struct {
	config     WebhookConfig
	topupRepo  TopupRepository
	gateway    PaymentGateway
	settlement *SettlementService
}

func NewWebhookService(config WebhookConfig, topupRepo TopupRepository, gateway PaymentGateway, settlement *SettlementService) *WebhookService {
	return &WebhookService{
		config:     config,
		topupRepo:  topupRepo,
		gateway:    gateway,
		settlement: settlement,
	}
}

// Handle processes one delivery. raw must be the request body exactly as
// received since the signature covers those bytes.
func (s *WebhookService) Handle(ctx context.Context, raw []byte, signature string) (*SettlementResult, error) {
	if s.config.Secret == "" {
		logger.Error("Webhook received but no webhook secret is configured")
		return nil, NewServiceError(KindConfiguration, ErrWebhookSecretMissing)
	}
	if !gateway.VerifySignature(s.config.Secret, raw, strings.TrimSpace(signature)) {
		prom.WebhookSignatureFailure()
		logger.Warn("Webhook signature rejected", "body_size", len(raw), "signature_present", signature != "")
		return nil, NewServiceError(KindAuthentication, ErrInvalidSignature)
	}

	var evt gateway.WebhookEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, validationError("malformed webhook payload: %v", err)
	}
	prom.WebhookReceived(evt.Event)

	reference := strings.TrimSpace(evt.Data.Reference)
	tenantID := strings.TrimSpace(evt.Data.Metadata.TenantID)
	switch {
	case reference == "":
		return nil, validationError("reference is required")
	case tenantID == "":
		return nil, validationError("metadata.tenantId is required")
	case strings.TrimSpace(evt.Data.Metadata.Channel) == "":
		return nil, validationError("metadata.channel is required")
	}
	channel, err := model.ParseChannel(evt.Data.Metadata.Channel)
	if err != nil {
		return nil, NewServiceError(KindValidation, err)
	}

	rec, err := s.topupRepo.Get(ctx, tenantID, reference)
	if err != nil {
		if errors.Is(err, repository.ErrTopupNotFound) {
			// records are written before the payer is redirected, so a miss
			// means initiate broke that ordering
			logger.Error("Webhook for unknown topup record",
				"reference", reference, "tenant_id", tenantID, "channel", channel, "event", evt.Event)
			return nil, NewServiceError(KindIntegration, err)
		}
		return nil, storeError(err)
	}
	if rec.Channel != channel {
		logger.Error("Webhook channel does not match topup record",
			"reference", reference, "tenant_id", tenantID, "channel", channel, "record_channel", rec.Channel)
		return nil, NewServiceError(KindIntegration, fmt.Errorf("channel %s does not match record channel %s", channel, rec.Channel))
	}

	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		logger.Warn("Gateway verify failed during webhook", "reference", reference, "tenant_id", tenantID, "error", err)
		return nil, gatewayError(err)
	}

	eventID := evt.EventID()
	if eventID == "" {
		eventID = v.ID
	}
	return s.settlement.Settle(ctx, rec, v, eventID, SourceWebhook)
}
