package repository

import (
	"time"

	"github.com/nimasrn/credit-topup/internal/model"
)

type LedgerEntity struct {
	ID               string    `db:"id"                gorm:"primaryKey;column:id"`
	TenantID         string    `db:"tenant_id"         gorm:"column:tenant_id;not null;index"`
	Type             string    `db:"type"              gorm:"column:type;not null"`
	Channel          string    `db:"channel"           gorm:"column:channel;not null"`
	Units            int64     `db:"units"             gorm:"column:units;not null"`
	Amount           int64     `db:"amount"            gorm:"column:amount;not null"`
	PaymentReference string    `db:"payment_reference" gorm:"column:payment_reference;not null;unique"`
	CreatedAt        time.Time `db:"created_at"        gorm:"column:created_at"`
}

func (LedgerEntity) TableName() string {
	return "credit_ledger_entries"
}

func toLedgerEntity(m *model.CreditLedgerEntry) *LedgerEntity {
	if m == nil {
		return nil
	}
	return &LedgerEntity{
		ID:               m.ID,
		TenantID:         m.TenantID,
		Type:             m.Type,
		Channel:          m.Channel.String(),
		Units:            m.Units,
		Amount:           m.Amount,
		PaymentReference: m.PaymentReference,
		CreatedAt:        m.CreatedAt,
	}
}

func toLedgerModel(e *LedgerEntity) *model.CreditLedgerEntry {
	if e == nil {
		return nil
	}
	return &model.CreditLedgerEntry{
		ID:               e.ID,
		TenantID:         e.TenantID,
		Type:             e.Type,
		Channel:          model.Channel(e.Channel),
		Units:            e.Units,
		Amount:           e.Amount,
		PaymentReference: e.PaymentReference,
		CreatedAt:        e.CreatedAt,
	}
}

func toLedgerModels(entities []*LedgerEntity) []*model.CreditLedgerEntry {
	if entities == nil {
		return nil
	}
	models := make([]*model.CreditLedgerEntry, len(entities))
	for i, e := range entities {
		models[i] = toLedgerModel(e)
	}
	return models
}
