package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/credit-topup/internal/catalog"
	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testTenantID      = "T1"
	testWebhookSecret = "whsec_test"
	testCurrency      = "GHS"
)

var (
	memberIdentity   = model.Identity{UserID: "u1", TenantID: testTenantID, Email: "ops@t1.org"}
	ownerIdentity    = model.Identity{UserID: "owner-1", TenantID: "HQ"}
	strangerIdentity = model.Identity{UserID: "u9", TenantID: "T9"}
)

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitializeResult), args.Error(1)
}

func (m *MockPaymentGateway) Verify(ctx context.Context, reference string) (*gateway.Verification, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Verification), args.Error(1)
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []ReverifyJob
	err  error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, data interface{}, _ map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.jobs = append(p.jobs, data.(ReverifyJob))
	return "1-0", nil
}

type fixture struct {
	topups     *repository.TopupRepository
	tenants    *repository.TenantRepository
	ledger     *repository.LedgerRepository
	gw         *MockPaymentGateway
	publisher  *recordingPublisher
	settlement *SettlementService
	topup      *TopupService
	webhook    *WebhookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := repository.NewTestDB(t)
	f := &fixture{
		topups:    repository.NewTopupRepository(db),
		tenants:   repository.NewTenantRepository(db),
		ledger:    repository.NewLedgerRepository(db),
		gw:        new(MockPaymentGateway),
		publisher: &recordingPublisher{},
	}
	f.settlement = NewSettlementService(f.topups, f.tenants, f.ledger)
	f.topup = NewTopupService(f.topups, f.tenants, f.ledger, catalog.Default(), f.gw, f.settlement, f.publisher, TopupConfig{Currency: testCurrency})
	f.webhook = NewWebhookService(WebhookConfig{Secret: testWebhookSecret}, f.topups, f.gw, f.settlement)

	_, err := f.tenants.Create(context.Background(), &model.Tenant{
		ID:           testTenantID,
		Name:         "Grace Chapel",
		OwnerUserID:  "owner-1",
		BillingEmail: "billing@t1.org",
	})
	require.NoError(t, err)
	return f
}

// seedRecord stores an INIT record for the sms-10000 bundle.
func (f *fixture) seedRecord(t *testing.T, tenantID, reference string, createdAt time.Time) *model.TopupRecord {
	t.Helper()
	rec, err := f.topups.Create(context.Background(), &model.TopupRecord{
		Reference:        reference,
		TenantID:         tenantID,
		BundleID:         "sms-10000",
		Channel:          model.ChannelSMS,
		Units:            10000,
		AmountMinorUnits: 5000,
		Currency:         testCurrency,
		Status:           model.TopupStatusInit,
		CreatedAt:        createdAt,
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) balance(t *testing.T) *model.CreditBalance {
	t.Helper()
	b, err := f.tenants.GetBalance(context.Background(), testTenantID)
	require.NoError(t, err)
	return b
}

func (f *fixture) ledgerCount(t *testing.T, tenantID string) int64 {
	t.Helper()
	_, total, err := f.ledger.List(context.Background(), repository.LedgerFilter{TenantID: tenantID})
	require.NoError(t, err)
	return total
}

func (f *fixture) status(t *testing.T, tenantID, reference string) model.TopupStatus {
	t.Helper()
	rec, err := f.topups.Get(context.Background(), tenantID, reference)
	require.NoError(t, err)
	return rec.Status
}

func verification(reference, status string) *gateway.Verification {
	paidAt := time.Now().UTC()
	return &gateway.Verification{
		ID:               "trx-" + reference,
		Reference:        reference,
		Status:           status,
		AmountMinorUnits: 5000,
		Currency:         testCurrency,
		PaidAt:           &paidAt,
		Metadata: gateway.Metadata{
			TenantID: testTenantID,
			BundleID: "sms-10000",
			Channel:  "sms",
			Credits:  "10000",
		},
	}
}

// signedEvent builds a webhook body for reference and its signature.
func signedEvent(t *testing.T, id, reference, tenantID, channel, status string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":    id,
		"event": "charge.success",
		"data": map[string]any{
			"id":        42,
			"reference": reference,
			"status":    status,
			"amount":    5000,
			"currency":  testCurrency,
			"metadata": map[string]any{
				"tenantId": tenantID,
				"bundleId": "sms-10000",
				"channel":  channel,
				"credits":  10000,
			},
		},
	})
	require.NoError(t, err)
	return body, gateway.Sign(testWebhookSecret, body)
}
