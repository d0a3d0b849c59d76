package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrDuplicateAPIKey = errors.New("api key already exists")
	ErrInvalidUnits    = errors.New("credit units must be positive")
)

type TenantRepository struct {
	*pg.DB
}

func NewTenantRepository(db *pg.DB) *TenantRepository {
	return &TenantRepository{
		db,
	}
}

func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	entity := toTenantEntity(t)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toTenantModel(entity), nil
}

func (r *TenantRepository) Get(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var entity TenantEntity
	err := r.Read(ctx).
		Where("id = ?", tenantID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return toTenantModel(&entity), nil
}

func (r *TenantRepository) GetBalance(ctx context.Context, tenantID string) (*model.CreditBalance, error) {
	var entity TenantEntity
	err := r.Read(ctx).
		Select("id", "sms_credits", "whatsapp_credits").
		Where("id = ?", tenantID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &model.CreditBalance{
		TenantID:        entity.ID,
		SMSCredits:      entity.SMSCredits,
		WhatsAppCredits: entity.WhatsAppCredits,
	}, nil
}

// IncrementCredits adds units to the tenant's counter for ch. The update is a
// single relative UPDATE so concurrent increments on the same tenant never
// lose writes. Callers are expected to run it inside the settlement
// transaction.
func (r *TenantRepository) IncrementCredits(ctx context.Context, tenantID string, ch model.Channel, units int64) error {
	if units <= 0 {
		return ErrInvalidUnits
	}
	column, err := ch.CreditsColumn()
	if err != nil {
		return err
	}

	result := r.Write(ctx).
		Model(&TenantEntity{}).
		Where("id = ?", tenantID).
		Update(column, gorm.Expr(fmt.Sprintf("%s + ?", column), units))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	entity := toUserEntity(u)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateAPIKey
		}
		return nil, err
	}
	return toUserModel(entity), nil
}

func (r *UserRepository) FindByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	if apiKey == "" {
		return nil, ErrUserNotFound
	}
	var entity UserEntity
	err := r.Read(ctx).
		Where("api_key = ?", apiKey).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return toUserModel(&entity), nil
}
