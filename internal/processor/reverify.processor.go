package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/credit-topup/internal/queue"
	"github.com/nimasrn/credit-topup/internal/services"
	"github.com/nimasrn/credit-topup/pkg/logger"
)

var ErrStillPending = errors.New("topup still pending")

type Reverifier interface {
	Reverify(ctx context.Context, job services.ReverifyJob, minAge time.Duration) (*services.SettlementResult, error)
}

// ReverifyProcessor settles top-ups whose webhook never arrived. A job stays
// on the stream until its record reaches a terminal state.
type ReverifyProcessor struct {
	svc         Reverifier
	idempotency *IdempotencyService
	minAge      time.Duration
}

func NewReverifyProcessor(svc Reverifier, idempotency *IdempotencyService, minAge time.Duration) *ReverifyProcessor {
	return &ReverifyProcessor{
		svc:         svc,
		idempotency: idempotency,
		minAge:      minAge,
	}
}

func (p *ReverifyProcessor) GetType() string {
	return "topup-reverify"
}

func (p *ReverifyProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job services.ReverifyJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		// redelivery cannot repair the payload
		logger.Error("Dropping malformed reverify job", "id", msg.ID, "error", err)
		return nil
	}
	if job.TenantID == "" || job.Reference == "" {
		logger.Error("Dropping reverify job without tenant or reference", "id", msg.ID)
		return nil
	}
	key := job.TenantID + ":" + job.Reference

	pc, err := p.idempotency.AcquireProcessingLock(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			return nil
		case errors.Is(err, ErrMaxRetriesExceeded):
			logger.Error("Giving up on topup re-verification", "reference", job.Reference, "tenant_id", job.TenantID)
			return nil
		case errors.Is(err, ErrLockAcquireFailed):
			return fmt.Errorf("reference %s is being verified elsewhere: %w", job.Reference, err)
		}
		return err
	}
	defer func() {
		_ = p.idempotency.ReleaseLock(ctx, pc)
	}()

	res, err := p.svc.Reverify(ctx, job, p.minAge)
	if err != nil {
		switch services.KindOf(err) {
		case services.KindNotFound, services.KindValidation:
			// retrying cannot make the record appear
			logger.Error("Topup re-verification rejected", "reference", job.Reference, "tenant_id", job.TenantID, "error", err)
			return nil
		}
		_, _ = p.idempotency.MarkFailure(ctx, pc, err)
		return err
	}

	if res.Outcome == services.OutcomePending {
		logger.Debug("Topup not settled yet, will retry",
			"reference", job.Reference, "tenant_id", job.TenantID, "attempts", msg.Attempts)
		return ErrStillPending
	}

	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		logger.Warn("Failed to mark reverify job processed", "reference", job.Reference, "error", err)
	}
	logger.Info("Topup re-verification finished",
		"reference", job.Reference, "tenant_id", job.TenantID,
		"outcome", res.Outcome.String(), "status", res.Record.Status.String())
	return nil
}
