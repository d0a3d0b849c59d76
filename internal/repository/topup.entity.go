package repository

import (
	"fmt"
	"time"

	"github.com/nimasrn/credit-topup/internal/model"
)

type TopupEntity struct {
	Reference        string     `db:"reference"          gorm:"primaryKey;column:reference"`
	TenantID         string     `db:"tenant_id"          gorm:"column:tenant_id;not null;index"`
	BundleID         string     `db:"bundle_id"          gorm:"column:bundle_id;not null"`
	Channel          string     `db:"channel"            gorm:"column:channel;not null"`
	Units            int64      `db:"units"              gorm:"column:units;not null"`
	AmountMinorUnits int64      `db:"amount_minor_units" gorm:"column:amount_minor_units;not null"`
	Currency         string     `db:"currency"           gorm:"column:currency;not null"`
	Status           string     `db:"status"             gorm:"column:status;not null;index"`
	GatewayEventID   *string    `db:"gateway_event_id"   gorm:"column:gateway_event_id"`
	CreatedAt        time.Time  `db:"created_at"         gorm:"column:created_at"`
	PaidAt           *time.Time `db:"paid_at"            gorm:"column:paid_at"`
	UpdatedAt        time.Time  `db:"updated_at"         gorm:"column:updated_at;autoUpdateTime"`
}

func (TopupEntity) TableName() string {
	return "topup_records"
}

func toTopupEntity(m *model.TopupRecord) *TopupEntity {
	if m == nil {
		return nil
	}
	return &TopupEntity{
		Reference:        m.Reference,
		TenantID:         m.TenantID,
		BundleID:         m.BundleID,
		Channel:          m.Channel.String(),
		Units:            m.Units,
		AmountMinorUnits: m.AmountMinorUnits,
		Currency:         m.Currency,
		Status:           m.Status.String(),
		GatewayEventID:   m.GatewayEventID,
		CreatedAt:        m.CreatedAt,
		PaidAt:           m.PaidAt,
	}
}

func toTopupModel(e *TopupEntity) (*model.TopupRecord, error) {
	if e == nil {
		return nil, nil
	}
	status, err := model.ParseTopupStatus(e.Status)
	if err != nil {
		return nil, fmt.Errorf("topup %s: %w", e.Reference, err)
	}
	return &model.TopupRecord{
		Reference:        e.Reference,
		TenantID:         e.TenantID,
		BundleID:         e.BundleID,
		Channel:          model.Channel(e.Channel),
		Units:            e.Units,
		AmountMinorUnits: e.AmountMinorUnits,
		Currency:         e.Currency,
		Status:           status,
		GatewayEventID:   e.GatewayEventID,
		CreatedAt:        e.CreatedAt,
		PaidAt:           e.PaidAt,
	}, nil
}
