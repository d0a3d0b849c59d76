package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/credit-topup/internal/auth"
	"github.com/nimasrn/credit-topup/internal/catalog"
	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/prom"
)

// minorUnitsPerMajor converts a two-decimal price into the gateway amount.
const minorUnitsPerMajor = 100

type PaymentGateway interface {
	Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*gateway.Verification, error)
}

type BundleCatalog interface {
	Lookup(channel model.Channel, bundleID string) (model.Bundle, error)
}

// Publisher schedules a background re-verification of a new top-up.
type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// ReverifyJob is the payload published for the re-verification sweeper.
type ReverifyJob struct {
	TenantID  string `json:"tenantId"`
	Reference string `json:"reference"`
}

type TopupConfig struct {
	Currency string
}

type TopupService struct {
	topupRepo  TopupRepository
	tenantRepo TenantRepository
	ledgerRepo LedgerRepository
	catalog    BundleCatalog
	gateway    PaymentGateway
	settlement *SettlementService
	publisher  Publisher
	config     TopupConfig
}

func NewTopupService(
	topupRepo TopupRepository,
	tenantRepo TenantRepository,
	ledgerRepo LedgerRepository,
	catalog BundleCatalog,
	gateway PaymentGateway,
	settlement *SettlementService,
	publisher Publisher,
	config TopupConfig,
) *TopupService {
	return &TopupService{
		topupRepo:  topupRepo,
		tenantRepo: tenantRepo,
		ledgerRepo: ledgerRepo,
		catalog:    catalog,
		gateway:    gateway,
		settlement: settlement,
		publisher:  publisher,
		config:     config,
	}
}

// Initiate opens a gateway transaction for a bundle and records it as INIT
// before returning, so the record exists by the time the payer can complete
// payment and trigger a webhook.
func (s *TopupService) Initiate(ctx context.Context, id model.Identity, p model.TopupInitiateRequest) (*model.TopupInitiateResult, error) {
	p.TenantID = strings.TrimSpace(p.TenantID)
	p.BundleID = strings.TrimSpace(p.BundleID)
	if err := p.Validate(); err != nil {
		return nil, NewServiceError(KindValidation, err)
	}
	channel, err := model.ParseChannel(p.Channel)
	if err != nil {
		return nil, NewServiceError(KindValidation, err)
	}

	tenant, err := s.authorize(ctx, id, p.TenantID)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(p.BillingEmail)
	if email == "" {
		email = strings.TrimSpace(tenant.BillingEmail)
	}
	if email == "" {
		return nil, validationError("billingEmail is required")
	}

	bundle, err := s.catalog.Lookup(channel, p.BundleID)
	if err != nil {
		if errors.Is(err, catalog.ErrBundleNotFound) {
			return nil, NewServiceError(KindNotFound, err)
		}
		return nil, NewServiceError(KindInternal, err)
	}
	amount, err := toMinorUnits(bundle.PriceGHS)
	if err != nil {
		return nil, NewServiceError(KindValidation, fmt.Errorf("bundle %s: %w", bundle.ID, err))
	}

	res, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
		Email:            email,
		AmountMinorUnits: amount,
		Currency:         s.config.Currency,
		Metadata: gateway.Metadata{
			TenantID: tenant.ID,
			BundleID: gateway.FlexString(bundle.ID),
			Channel:  channel.String(),
			Credits:  gateway.FlexString(strconv.FormatInt(bundle.Credits, 10)),
		},
	})
	if err != nil {
		logger.Error("Gateway initialize failed", "tenant_id", tenant.ID, "bundle_id", bundle.ID, "channel", channel, "error", err)
		return nil, gatewayError(err)
	}
	if res == nil || strings.TrimSpace(res.Reference) == "" {
		logger.Error("Gateway initialize returned no reference", "tenant_id", tenant.ID, "bundle_id", bundle.ID)
		return nil, NewServiceError(KindIntegration, gateway.ErrMissingReference)
	}

	rec, err := s.topupRepo.Create(ctx, &model.TopupRecord{
		Reference:        res.Reference,
		TenantID:         tenant.ID,
		BundleID:         bundle.ID,
		Channel:          channel,
		Units:            bundle.Credits,
		AmountMinorUnits: amount,
		Currency:         s.config.Currency,
		Status:           model.TopupStatusInit,
	})
	if err != nil {
		logger.Error("Failed to record initiated topup", "reference", res.Reference, "tenant_id", tenant.ID, "channel", channel, "error", err)
		if errors.Is(err, repository.ErrDuplicateReference) {
			return nil, NewServiceError(KindIntegration, err)
		}
		return nil, storeError(err)
	}

	s.scheduleReverify(ctx, rec)
	prom.TopupInitiated(channel.String())
	logger.Info("Topup initiated",
		"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel,
		"bundle_id", rec.BundleID, "units", rec.Units, "amount", rec.AmountMinorUnits)

	return &model.TopupInitiateResult{
		AuthorizationURL: res.AuthorizationURL,
		Reference:        rec.Reference,
	}, nil
}

// Verify asks the gateway for the outcome of reference and settles it on the
// caller's behalf. It converges with the webhook path on the same record.
func (s *TopupService) Verify(ctx context.Context, id model.Identity, tenantID, reference string) (*model.TopupRecord, error) {
	if _, err := s.authorize(ctx, id, tenantID); err != nil {
		return nil, err
	}
	res, err := s.verifyAndSettle(ctx, tenantID, reference, SourceVerify)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// Reverify settles a record from the background sweeper. Records younger than
// minAge are left for the webhook.
func (s *TopupService) Reverify(ctx context.Context, job ReverifyJob, minAge time.Duration) (*SettlementResult, error) {
	if job.TenantID == "" || job.Reference == "" {
		return nil, validationError("tenantId and reference are required")
	}
	rec, err := s.getRecord(ctx, job.TenantID, job.Reference)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return &SettlementResult{Record: rec, Outcome: OutcomeUnchanged}, nil
	}
	if age := time.Since(rec.CreatedAt); age < minAge {
		return &SettlementResult{Record: rec, Outcome: OutcomePending}, nil
	}
	return s.verifyAndSettle(ctx, job.TenantID, job.Reference, SourceReverify)
}

func (s *TopupService) Get(ctx context.Context, id model.Identity, tenantID, reference string) (*model.TopupRecord, error) {
	if _, err := s.authorize(ctx, id, tenantID); err != nil {
		return nil, err
	}
	return s.getRecord(ctx, tenantID, reference)
}

func (s *TopupService) Balance(ctx context.Context, id model.Identity, tenantID string) (*model.CreditBalance, error) {
	if _, err := s.authorize(ctx, id, tenantID); err != nil {
		return nil, err
	}
	b, err := s.tenantRepo.GetBalance(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, NewServiceError(KindNotFound, err)
		}
		return nil, storeError(err)
	}
	return b, nil
}

// Ledger lists the tenant's credit ledger, newest first.
func (s *TopupService) Ledger(ctx context.Context, id model.Identity, f repository.LedgerFilter) ([]*model.CreditLedgerEntry, int64, error) {
	if _, err := s.authorize(ctx, id, f.TenantID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.ledgerRepo.List(ctx, f)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return items, total, nil
}

func (s *TopupService) verifyAndSettle(ctx context.Context, tenantID, reference, source string) (*SettlementResult, error) {
	rec, err := s.getRecord(ctx, tenantID, reference)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		logger.Debug("Topup already terminal, skipping gateway verify", "reference", reference, "tenant_id", tenantID, "status", rec.Status.String(), "source", source)
		return &SettlementResult{Record: rec, Outcome: OutcomeUnchanged}, nil
	}

	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		logger.Warn("Gateway verify failed", "reference", reference, "tenant_id", tenantID, "source", source, "error", err)
		return nil, gatewayError(err)
	}
	return s.settlement.Settle(ctx, rec, v, v.ID, source)
}

func (s *TopupService) getRecord(ctx context.Context, tenantID, reference string) (*model.TopupRecord, error) {
	reference = strings.TrimSpace(reference)
	if tenantID == "" || reference == "" {
		return nil, validationError("tenantId and reference are required")
	}
	rec, err := s.topupRepo.Get(ctx, tenantID, reference)
	if err != nil {
		if errors.Is(err, repository.ErrTopupNotFound) {
			return nil, NewServiceError(KindNotFound, err)
		}
		return nil, storeError(err)
	}
	return rec, nil
}

// authorize loads the tenant and checks that id may manage it.
func (s *TopupService) authorize(ctx context.Context, id model.Identity, tenantID string) (*model.Tenant, error) {
	if tenantID == "" {
		return nil, validationError("churchId is required")
	}
	tenant, err := s.tenantRepo.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, NewServiceError(KindNotFound, err)
		}
		return nil, storeError(err)
	}
	if !auth.CanManage(id, tenant) {
		logger.Warn("Tenant access denied", "tenant_id", tenantID, "user_id", id.UserID)
		return nil, NewServiceError(KindAuthorization, fmt.Errorf("not allowed to manage tenant %s", tenantID))
	}
	return tenant, nil
}

func (s *TopupService) scheduleReverify(ctx context.Context, rec *model.TopupRecord) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.PublishJSON(ctx, ReverifyJob{TenantID: rec.TenantID, Reference: rec.Reference}, map[string]string{
		"channel": rec.Channel.String(),
	})
	if err != nil {
		logger.Warn("Failed to schedule topup re-verification", "reference", rec.Reference, "tenant_id", rec.TenantID, "error", err)
	}
}

func toMinorUnits(price float64) (int64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	return int64(math.Round(price * minorUnitsPerMajor)), nil
}
