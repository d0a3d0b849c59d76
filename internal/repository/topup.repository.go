package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTopupNotFound      = errors.New("topup record not found")
	ErrDuplicateReference = errors.New("topup reference already exists")
	ErrInvalidTopupRecord = errors.New("invalid topup record")
)

type TopupRepository struct {
	*pg.DB
}

func NewTopupRepository(db *pg.DB) *TopupRepository {
	return &TopupRepository{
		db,
	}
}

// Create stores a new record in INIT. The reference is the primary key, so a
// reused reference fails with ErrDuplicateReference.
func (r *TopupRepository) Create(ctx context.Context, rec *model.TopupRecord) (*model.TopupRecord, error) {
	if rec == nil || rec.Reference == "" || rec.TenantID == "" {
		return nil, ErrInvalidTopupRecord
	}
	if rec.Status != model.TopupStatusInit {
		return nil, ErrInvalidTopupRecord
	}

	entity := toTopupEntity(rec)
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	entity.PaidAt = nil

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateReference
		}
		return nil, err
	}
	return toTopupModel(entity)
}

// Get loads the record for reference scoped to tenantID. A reference owned by
// another tenant is reported as not found.
func (r *TopupRepository) Get(ctx context.Context, tenantID, reference string) (*model.TopupRecord, error) {
	var entity TopupEntity
	err := r.Read(ctx).
		Where("reference = ? AND tenant_id = ?", reference, tenantID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTopupNotFound
		}
		return nil, err
	}
	return toTopupModel(&entity)
}

// MarkPaid moves the record from INIT to PAID. It reports false without error
// when the record is no longer INIT, which is how concurrent settlements of
// the same reference are told apart: only one UPDATE can match.
func (r *TopupRepository) MarkPaid(ctx context.Context, tenantID, reference string, eventID *string, paidAt time.Time) (bool, error) {
	return r.transition(ctx, tenantID, reference, model.TopupStatusPaid, map[string]interface{}{
		"status":           model.TopupStatusPaid.String(),
		"paid_at":          paidAt,
		"gateway_event_id": eventID,
	})
}

// MarkFailed moves the record from INIT to FAILED. PAID and FAILED records are
// left untouched and false is returned.
func (r *TopupRepository) MarkFailed(ctx context.Context, tenantID, reference string, eventID *string) (bool, error) {
	return r.transition(ctx, tenantID, reference, model.TopupStatusFailed, map[string]interface{}{
		"status":           model.TopupStatusFailed.String(),
		"gateway_event_id": eventID,
	})
}

func (r *TopupRepository) transition(ctx context.Context, tenantID, reference string, next model.TopupStatus, updates map[string]interface{}) (bool, error) {
	if !model.TopupStatusInit.CanTransitionTo(next) {
		return false, model.ErrInvalidTopupStatus
	}
	updates["updated_at"] = time.Now().UTC()

	result := r.Write(ctx).
		Model(&TopupEntity{}).
		Where("reference = ? AND tenant_id = ? AND status = ?", reference, tenantID, model.TopupStatusInit.String()).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
