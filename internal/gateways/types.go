package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Gateway transaction statuses the reconciler distinguishes.
const (
	TransactionSuccess = "success"
	TransactionFailed  = "failed"
)

var pendingStatuses = map[string]struct{}{
	"ongoing":    {},
	"pending":    {},
	"processing": {},
	"queued":     {},
	"abandoned":  {},
}

// FlexString keeps the textual form of a JSON value whatever its type.
// Gateway ids arrive as numbers on some endpoints and strings on others, and
// metadata the reconciler never reads must not fail the whole event.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}

func (f FlexString) String() string { return string(f) }

// Metadata is the bag attached at initialize time and echoed back by the
// gateway on verify and on webhooks.
type Metadata struct {
	TenantID string     `json:"tenantId"`
	BundleID FlexString `json:"bundleId"`
	Channel  string     `json:"channel"`
	Credits  FlexString `json:"credits"`
}

// UnmarshalJSON tolerates the gateway sending metadata as an empty string or
// as a JSON document encoded inside a string.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	type plain Metadata
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = Metadata{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*m = Metadata{}
			return nil
		}
		b = []byte(s)
	}
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = Metadata(p)
	return nil
}

type InitializeRequest struct {
	Email            string
	AmountMinorUnits int64
	Currency         string
	Metadata         Metadata
}

type InitializeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

// Verification is the gateway's authoritative view of a transaction.
type Verification struct {
	ID               string
	Reference        string
	Status           string
	AmountMinorUnits int64
	Currency         string
	PaidAt           *time.Time
	GatewayResponse  string
	Metadata         Metadata
}

func (v *Verification) Successful() bool {
	return strings.EqualFold(v.Status, TransactionSuccess)
}

// Pending reports a status that is not final yet. Such a transaction may
// still succeed, so it must not be marked failed.
func (v *Verification) Pending() bool {
	_, ok := pendingStatuses[strings.ToLower(v.Status)]
	return ok
}

// WebhookEvent is the envelope posted by the gateway.
type WebhookEvent struct {
	ID    FlexString       `json:"id"`
	Event string           `json:"event"`
	Data  WebhookEventData `json:"data"`
}

// WebhookEventData decodes only what routing needs. Amount and status are
// taken from the verify call, never from the event body.
type WebhookEventData struct {
	ID        FlexString `json:"id"`
	Reference string     `json:"reference"`
	Status    FlexString `json:"status"`
	Metadata  Metadata   `json:"metadata"`
}

// EventID prefers the envelope id and falls back to the transaction id.
func (e *WebhookEvent) EventID() string {
	if e.ID != "" {
		return e.ID.String()
	}
	return e.Data.ID.String()
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency,omitempty"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID              FlexString `json:"id"`
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	PaidAt          *time.Time `json:"paid_at"`
	GatewayResponse string     `json:"gateway_response"`
	Metadata        Metadata   `json:"metadata"`
}
