package model

import "time"

type Tenant struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	OwnerUserID     string `json:"owner_user_id"`
	BillingEmail    string `json:"billing_email"`
	SMSCredits      int64  `json:"sms_credits"`
	WhatsAppCredits int64  `json:"whatsapp_credits"`
}

// Credits returns the balance counter for ch.
func (t Tenant) Credits(ch Channel) int64 {
	switch ch {
	case ChannelSMS:
		return t.SMSCredits
	case ChannelWhatsApp:
		return t.WhatsAppCredits
	}
	return 0
}

type CreditBalance struct {
	TenantID        string `json:"tenantId"`
	SMSCredits      int64  `json:"smsCredits"`
	WhatsAppCredits int64  `json:"whatsappCredits"`
}

// User is an operator account able to act on behalf of a tenant.
type User struct {
	ID       string `json:"id"`
	APIKey   string `json:"-"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
}

// Identity is the authenticated caller as produced by an IdentityResolver.
type Identity struct {
	UserID   string
	TenantID string
	Email    string
}

const LedgerEntryTypeTopup = "TOPUP"

// CreditLedgerEntry is the append-only audit row written with every balance change.
type CreditLedgerEntry struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Type             string    `json:"type"`
	Channel          Channel   `json:"channel"`
	Units            int64     `json:"units"`
	Amount           int64     `json:"amount"`
	PaymentReference string    `json:"payment_reference"`
	CreatedAt        time.Time `json:"created_at"`
}
