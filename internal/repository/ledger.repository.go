package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrLedgerEntryNotFound  = errors.New("ledger entry not found")
	ErrDuplicateLedgerEntry = errors.New("ledger entry already exists for payment reference")
)

// LedgerRepository is append-only: entries are never updated or deleted.
type LedgerRepository struct {
	*pg.DB
}

func NewLedgerRepository(db *pg.DB) *LedgerRepository {
	return &LedgerRepository{
		db,
	}
}

func (r *LedgerRepository) Append(ctx context.Context, entry *model.CreditLedgerEntry) (*model.CreditLedgerEntry, error) {
	entity := toLedgerEntity(entry)
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateLedgerEntry
		}
		return nil, err
	}
	return toLedgerModel(entity), nil
}

func (r *LedgerRepository) GetByReference(ctx context.Context, tenantID, reference string) (*model.CreditLedgerEntry, error) {
	var entity LedgerEntity
	err := r.Read(ctx).
		Where("payment_reference = ? AND tenant_id = ?", reference, tenantID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLedgerEntryNotFound
		}
		return nil, err
	}
	return toLedgerModel(&entity), nil
}

type LedgerFilter struct {
	TenantID string
	Channel  *model.Channel
	Limit    int
	Offset   int
}

// List returns a tenant's entries newest first together with the total count.
func (r *LedgerRepository) List(ctx context.Context, f LedgerFilter) ([]*model.CreditLedgerEntry, int64, error) {
	q := r.Read(ctx).Model(&LedgerEntity{}).Where("tenant_id = ?", f.TenantID)
	if f.Channel != nil {
		q = q.Where("channel = ?", f.Channel.String())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*LedgerEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toLedgerModels(entities), total, nil
}
