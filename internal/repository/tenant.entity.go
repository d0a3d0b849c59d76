package repository

import (
	"time"

	"github.com/nimasrn/credit-topup/internal/model"
)

type TenantEntity struct {
	ID              string    `db:"id"               gorm:"primaryKey;column:id"`
	Name            string    `db:"name"             gorm:"column:name;not null"`
	OwnerUserID     string    `db:"owner_user_id"    gorm:"column:owner_user_id;index"`
	BillingEmail    string    `db:"billing_email"    gorm:"column:billing_email"`
	SMSCredits      int64     `db:"sms_credits"      gorm:"column:sms_credits;not null;default:0"`
	WhatsAppCredits int64     `db:"whatsapp_credits" gorm:"column:whatsapp_credits;not null;default:0"`
	CreatedAt       time.Time `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
}

func (TenantEntity) TableName() string {
	return "tenants"
}

func toTenantEntity(m *model.Tenant) *TenantEntity {
	if m == nil {
		return nil
	}
	return &TenantEntity{
		ID:              m.ID,
		Name:            m.Name,
		OwnerUserID:     m.OwnerUserID,
		BillingEmail:    m.BillingEmail,
		SMSCredits:      m.SMSCredits,
		WhatsAppCredits: m.WhatsAppCredits,
	}
}

func toTenantModel(e *TenantEntity) *model.Tenant {
	if e == nil {
		return nil
	}
	return &model.Tenant{
		ID:              e.ID,
		Name:            e.Name,
		OwnerUserID:     e.OwnerUserID,
		BillingEmail:    e.BillingEmail,
		SMSCredits:      e.SMSCredits,
		WhatsAppCredits: e.WhatsAppCredits,
	}
}

type UserEntity struct {
	ID       string `db:"id"        gorm:"primaryKey;column:id"`
	APIKey   string `db:"api_key"   gorm:"column:api_key;not null;unique"`
	TenantID string `db:"tenant_id" gorm:"column:tenant_id;index"`
	Email    string `db:"email"     gorm:"column:email"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		ID:       m.ID,
		APIKey:   m.APIKey,
		TenantID: m.TenantID,
		Email:    m.Email,
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:       e.ID,
		APIKey:   e.APIKey,
		TenantID: e.TenantID,
		Email:    e.Email,
	}
}
