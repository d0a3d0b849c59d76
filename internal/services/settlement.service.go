package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/prom"
)

// Sources that drive a settlement. They only label logs and metrics.
const (
	SourceWebhook  = "webhook"
	SourceVerify   = "verify"
	SourceReverify = "reverify"
)

type Outcome int

const (
	// OutcomePending means the gateway has no final answer yet; nothing changed.
	OutcomePending Outcome = iota
	// OutcomeCredited means this call moved the record to PAID and applied the credit.
	OutcomeCredited
	// OutcomeDuplicate means the record was already PAID.
	OutcomeDuplicate
	// OutcomeFailed means this call moved the record to FAILED.
	OutcomeFailed
	// OutcomeUnchanged means a terminal record was left as it was.
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCredited:
		return "credited"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	}
	return "unchanged"
}

type TopupRepository interface {
	Create(ctx context.Context, rec *model.TopupRecord) (*model.TopupRecord, error)
	Get(ctx context.Context, tenantID, reference string) (*model.TopupRecord, error)
	MarkPaid(ctx context.Context, tenantID, reference string, eventID *string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, tenantID, reference string, eventID *string) (bool, error)
}

type TenantRepository interface {
	Get(ctx context.Context, tenantID string) (*model.Tenant, error)
	GetBalance(ctx context.Context, tenantID string) (*model.CreditBalance, error)
	IncrementCredits(ctx context.Context, tenantID string, ch model.Channel, units int64) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type LedgerRepository interface {
	Append(ctx context.Context, entry *model.CreditLedgerEntry) (*model.CreditLedgerEntry, error)
	List(ctx context.Context, f repository.LedgerFilter) ([]*model.CreditLedgerEntry, int64, error)
}

type SettlementResult struct {
	Record  *model.TopupRecord
	Outcome Outcome
}

// SettlementService applies an authoritative gateway verification to a top-up
// record. It is the only writer of tenant balances for top-ups, and it is
// shared by the webhook, verify-by-reference and re-verification paths.
type SettlementService struct {
	topupRepo  TopupRepository
	tenantRepo TenantRepository
	ledgerRepo LedgerRepository
	now        func() time.Time
}

func NewSettlementService(topupRepo TopupRepository, tenantRepo TenantRepository, ledgerRepo LedgerRepository) *SettlementService {
	return &SettlementService{
		topupRepo:  topupRepo,
		tenantRepo: tenantRepo,
		ledgerRepo: ledgerRepo,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Settle drives rec to the state v reports. rec is the caller's snapshot; the
// decision to credit is made against the stored status, so any number of
// concurrent calls for the same reference credit at most once.
func (s *SettlementService) Settle(ctx context.Context, rec *model.TopupRecord, v *gateway.Verification, eventID, source string) (*SettlementResult, error) {
	if rec == nil || v == nil {
		return nil, NewServiceError(KindInternal, errors.New("settle called without record or verification"))
	}
	var evt *string
	if eventID != "" {
		evt = &eventID
	}

	switch {
	case v.Successful():
		return s.credit(ctx, rec, v, evt, source)
	case v.Pending():
		logger.Info("Topup verification not final yet",
			"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel,
			"gateway_status", v.Status, "source", source)
		return &SettlementResult{Record: rec, Outcome: OutcomePending}, nil
	default:
		return s.fail(ctx, rec, v, evt, source)
	}
}

func (s *SettlementService) fail(ctx context.Context, rec *model.TopupRecord, v *gateway.Verification, evt *string, source string) (*SettlementResult, error) {
	moved, err := s.topupRepo.MarkFailed(ctx, rec.TenantID, rec.Reference, evt)
	if err != nil {
		return nil, storeError(fmt.Errorf("mark %s failed: %w", rec.Reference, err))
	}

	current, err := s.topupRepo.Get(ctx, rec.TenantID, rec.Reference)
	if err != nil {
		return nil, storeError(err)
	}

	if !moved {
		logger.Info("Topup already terminal, failure ignored",
			"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel,
			"status", current.Status.String(), "gateway_status", v.Status, "source", source)
		return &SettlementResult{Record: current, Outcome: OutcomeUnchanged}, nil
	}

	prom.TopupFailed(rec.Channel.String())
	logger.Info("Topup marked failed",
		"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel,
		"gateway_status", v.Status, "gateway_response", v.GatewayResponse, "source", source)
	return &SettlementResult{Record: current, Outcome: OutcomeFailed}, nil
}

func (s *SettlementService) credit(ctx context.Context, rec *model.TopupRecord, v *gateway.Verification, evt *string, source string) (*SettlementResult, error) {
	if _, err := rec.Channel.CreditsColumn(); err != nil {
		return nil, NewServiceError(KindValidation, err)
	}
	if v.AmountMinorUnits != rec.AmountMinorUnits || (v.Currency != "" && !strings.EqualFold(v.Currency, rec.Currency)) {
		logger.Error("Verified amount does not match topup record",
			"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel,
			"expected_amount", rec.AmountMinorUnits, "expected_currency", rec.Currency,
			"verified_amount", v.AmountMinorUnits, "verified_currency", v.Currency)
		return nil, NewServiceError(KindIntegration, fmt.Errorf("amount mismatch for %s: expected %d %s, verified %d %s",
			rec.Reference, rec.AmountMinorUnits, rec.Currency, v.AmountMinorUnits, v.Currency))
	}

	outcome := OutcomeCredited
	var current *model.TopupRecord

	err := s.tenantRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.tenantRepo.Get(ctx, rec.TenantID); err != nil {
			if errors.Is(err, repository.ErrTenantNotFound) {
				return NewServiceError(KindIntegration, fmt.Errorf("tenant %s for topup %s: %w", rec.TenantID, rec.Reference, err))
			}
			return storeError(err)
		}

		moved, err := s.topupRepo.MarkPaid(ctx, rec.TenantID, rec.Reference, evt, s.now())
		if err != nil {
			return storeError(fmt.Errorf("mark %s paid: %w", rec.Reference, err))
		}

		if moved {
			if err := s.tenantRepo.IncrementCredits(ctx, rec.TenantID, rec.Channel, rec.Units); err != nil {
				return storeError(fmt.Errorf("increment %s credits: %w", rec.Channel, err))
			}
			_, err = s.ledgerRepo.Append(ctx, &model.CreditLedgerEntry{
				TenantID:         rec.TenantID,
				Type:             model.LedgerEntryTypeTopup,
				Channel:          rec.Channel,
				Units:            rec.Units,
				Amount:           rec.AmountMinorUnits,
				PaymentReference: rec.Reference,
			})
			if err != nil {
				return storeError(fmt.Errorf("append ledger entry: %w", err))
			}
		}

		current, err = s.topupRepo.Get(ctx, rec.TenantID, rec.Reference)
		if err != nil {
			return storeError(err)
		}
		if !moved {
			if current.Status == model.TopupStatusPaid {
				outcome = OutcomeDuplicate
			} else {
				outcome = OutcomeUnchanged
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Topup settlement rolled back",
			"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel,
			"source", source, "error", err)
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, storeError(err)
	}

	switch outcome {
	case OutcomeCredited:
		prom.TopupCredited(rec.Channel.String())
		logger.Info("Topup credited",
			"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel,
			"units", rec.Units, "source", source)
	case OutcomeDuplicate:
		prom.TopupDuplicate(source)
		logger.Info("Topup already credited, duplicate absorbed",
			"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel, "source", source)
	default:
		logger.Warn("Successful payment for a topup already marked failed",
			"reference", rec.Reference, "tenant_id", rec.TenantID, "channel", rec.Channel, "source", source)
	}

	return &SettlementResult{Record: current, Outcome: outcome}, nil
}
