package model

import (
	"errors"
	"fmt"
	"time"
)

// TopupStatus is the lifecycle state of a top-up attempt.
// INIT is the only non-terminal state.
type TopupStatus struct {
	s string
}

var (
	TopupStatusInit   = TopupStatus{"INIT"}
	TopupStatusPaid   = TopupStatus{"PAID"}
	TopupStatusFailed = TopupStatus{"FAILED"}
)

var ErrInvalidTopupStatus = errors.New("invalid topup status")

func ParseTopupStatus(s string) (TopupStatus, error) {
	switch s {
	case TopupStatusInit.s:
		return TopupStatusInit, nil
	case TopupStatusPaid.s:
		return TopupStatusPaid, nil
	case TopupStatusFailed.s:
		return TopupStatusFailed, nil
	}
	return TopupStatus{}, fmt.Errorf("%w: %q", ErrInvalidTopupStatus, s)
}

func (s TopupStatus) String() string { return s.s }

func (s TopupStatus) IsTerminal() bool { return s == TopupStatusPaid || s == TopupStatusFailed }

// CanTransitionTo reports whether s -> next is a legal move.
func (s TopupStatus) CanTransitionTo(next TopupStatus) bool {
	return s == TopupStatusInit && next.IsTerminal()
}

func (s TopupStatus) MarshalText() ([]byte, error) { return []byte(s.s), nil }

func (s *TopupStatus) UnmarshalText(b []byte) error {
	v, err := ParseTopupStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TopupRecord is one payment attempt for a credit bundle, keyed by the gateway reference.
type TopupRecord struct {
	Reference        string      `json:"reference"`
	TenantID         string      `json:"tenant_id"`
	BundleID         string      `json:"bundle_id"`
	Channel          Channel     `json:"channel"`
	Units            int64       `json:"units"`
	AmountMinorUnits int64       `json:"amount_minor_units"`
	Currency         string      `json:"currency"`
	Status           TopupStatus `json:"status"`
	GatewayEventID   *string     `json:"gateway_event_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
}

// TopupInitiateRequest is the input for starting a bundle purchase.
type TopupInitiateRequest struct {
	TenantID     string
	BundleID     string
	Channel      string
	BillingEmail string
}

func (p TopupInitiateRequest) Validate() error {
	if p.TenantID == "" {
		return errors.New("churchId is required")
	}
	if p.BundleID == "" {
		return errors.New("bundleId is required")
	}
	if p.Channel == "" {
		return errors.New("channel is required")
	}
	return nil
}

// TopupInitiateResult is what the caller needs to complete payment out-of-band.
type TopupInitiateResult struct {
	AuthorizationURL string `json:"authorizationUrl"`
	Reference        string `json:"reference"`
}
