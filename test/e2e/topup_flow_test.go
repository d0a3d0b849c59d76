package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/credit-topup/internal/auth"
	"github.com/nimasrn/credit-topup/internal/catalog"
	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/handlers"
	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/processor"
	"github.com/nimasrn/credit-topup/internal/queue"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/internal/services"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
	"github.com/nimasrn/credit-topup/pkg/pg"
	"github.com/nimasrn/credit-topup/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const (
	webhookSecret = "whsec_test"
	apiKey        = "key-member"
)

type fakeTransaction struct {
	ID       int64
	Status   string
	Amount   int64
	Currency string
	Metadata gateway.Metadata
}

// fakeGateway serves the two gateway endpoints the client calls.
type fakeGateway struct {
	mu  sync.Mutex
	seq int64
	txs map[string]*fakeTransaction
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	write := func(code int, ok bool, data any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": ok, "message": "fake", "data": data})
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/transaction/initialize":
		var body struct {
			Amount   int64            `json:"amount"`
			Currency string           `json:"currency"`
			Metadata gateway.Metadata `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			write(http.StatusBadRequest, false, nil)
			return
		}
		g.seq++
		ref := fmt.Sprintf("ref-%d", g.seq)
		g.txs[ref] = &fakeTransaction{ID: 9000 + g.seq, Status: "ongoing", Amount: body.Amount, Currency: body.Currency, Metadata: body.Metadata}
		write(http.StatusOK, true, map[string]any{"reference": ref, "authorization_url": "https://pay.test/" + ref, "access_code": "ac"})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transaction/verify/"):
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		tx, ok := g.txs[ref]
		if !ok {
			write(http.StatusNotFound, false, nil)
			return
		}
		write(http.StatusOK, true, map[string]any{
			"id": tx.ID, "reference": ref, "status": tx.Status, "amount": tx.Amount,
			"currency": tx.Currency, "metadata": tx.Metadata,
		})
	default:
		write(http.StatusNotFound, false, nil)
	}
}

func (g *fakeGateway) settle(ref, status string) fakeTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.txs[ref].Status = status
	return *g.txs[ref]
}

type TestEnvironment struct {
	DB           *pg.DB
	Redis        *miniredis.Miniredis
	RedisAdapter redis.RedisAdapter
	QueueConfig  queue.QueueConfig
	Gateway      *fakeGateway
	Client       *gateway.Client
	TopupService *services.TopupService
	http         *fasthttp.Client
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db := repository.NewTestDB(t)
	ctx := context.Background()

	tenantRepo := repository.NewTenantRepository(db)
	userRepo := repository.NewUserRepository(db)
	topupRepo := repository.NewTopupRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	_, err := tenantRepo.Create(ctx, &model.Tenant{ID: "T1", Name: "Grace Chapel", BillingEmail: "billing@t1.org"})
	require.NoError(t, err)
	_, err = userRepo.Create(ctx, &model.User{ID: "u-1", APIKey: apiKey, TenantID: "T1", Email: "member@t1.org"})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisAdapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	queueConfig := queue.QueueConfig{
		Name:              "test:topups:verify",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        5,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
	}
	publisher, err := queue.NewQueue(redisAdapter, queueConfig)
	require.NoError(t, err)

	fg := &fakeGateway{txs: make(map[string]*fakeTransaction)}
	gwServer := httptest.NewServer(fg)
	t.Cleanup(gwServer.Close)
	client, err := gateway.NewClient(gateway.Config{BaseURL: gwServer.URL, SecretKey: "sk_test", RetryDelay: time.Millisecond})
	require.NoError(t, err)

	settlement := services.NewSettlementService(topupRepo, tenantRepo, ledgerRepo)
	topupService := services.NewTopupService(topupRepo, tenantRepo, ledgerRepo, catalog.Default(), client, settlement, publisher,
		services.TopupConfig{Currency: "GHS"})
	webhookService := services.NewWebhookService(services.WebhookConfig{Secret: webhookSecret}, topupRepo, client, settlement)

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Router = xhttp.CreateDefaultRouter()
	g := s.Router.Group("/api/v1")
	handlers.RegisterTopupRoutes(g, handlers.NewTopupHandler(topupService, auth.NewResolver(userRepo)))
	handlers.RegisterWebhookRoutes(g, handlers.NewWebhookHandler(webhookService, 5*time.Second))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.HealthService{"postgres": db, "redis": redisAdapter}))
	require.NoError(t, s.DoRouting())

	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = s.Server.Serve(ln) }()
	t.Cleanup(func() {
		_ = s.Server.Shutdown()
		_ = publisher.Stop(time.Second)
	})

	return &TestEnvironment{
		DB:           db,
		Redis:        mr,
		RedisAdapter: redisAdapter,
		QueueConfig:  queueConfig,
		Gateway:      fg,
		Client:       client,
		TopupService: topupService,
		http: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
	}
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *TestEnvironment) do(t *testing.T, method, path string, body []byte, headers map[string]string) (int, response) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://api.test" + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.SetBody(body)
	}
	require.NoError(t, e.http.DoTimeout(req, resp, 5*time.Second))

	var r response
	if len(resp.Body()) > 0 && resp.Body()[0] == '{' {
		require.NoError(t, json.Unmarshal(resp.Body(), &r))
	}
	return resp.StatusCode(), r
}

func (e *TestEnvironment) initiate(t *testing.T, bundleID string) string {
	t.Helper()
	code, r := e.do(t, http.MethodPost, "/api/v1/topups",
		[]byte(fmt.Sprintf(`{"churchId":"T1","bundleId":%q,"channel":"sms"}`, bundleID)),
		map[string]string{auth.HeaderAPIKey: apiKey})
	require.Equal(t, http.StatusOK, code, r.Message)

	var res model.TopupInitiateResult
	require.NoError(t, json.Unmarshal(r.Data, &res))
	require.NotEmpty(t, res.Reference)
	assert.Equal(t, "https://pay.test/"+res.Reference, res.AuthorizationURL)
	return res.Reference
}

func (e *TestEnvironment) webhook(t *testing.T, ref, status string, signature func([]byte) string) int {
	t.Helper()
	tx := e.Gateway.settle(ref, status)
	event := "charge.success"
	if status != gateway.TransactionSuccess {
		event = "charge.failed"
	}
	raw, err := json.Marshal(map[string]any{
		"event": event,
		"data": map[string]any{
			"id": tx.ID, "reference": ref, "status": status, "amount": tx.Amount,
			"currency": tx.Currency, "metadata": tx.Metadata,
		},
	})
	require.NoError(t, err)

	code, _ := e.do(t, http.MethodPost, "/api/v1/webhooks/paystack", raw, map[string]string{gateway.SignatureHeader: signature(raw)})
	return code
}

func (e *TestEnvironment) balance(t *testing.T) model.CreditBalance {
	t.Helper()
	code, r := e.do(t, http.MethodGet, "/api/v1/tenants/T1/credits", nil, map[string]string{auth.HeaderAPIKey: apiKey})
	require.Equal(t, http.StatusOK, code)
	var b model.CreditBalance
	require.NoError(t, json.Unmarshal(r.Data, &b))
	return b
}

func signed(raw []byte) string { return gateway.Sign(webhookSecret, raw) }

func TestE2E_WebhookCreditsOnce(t *testing.T) {
	env := setupE2EEnvironment(t)

	ref := env.initiate(t, "sms-10000")
	assert.Equal(t, int64(0), env.balance(t).SMSCredits)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, env.webhook(t, ref, gateway.TransactionSuccess, signed))
	}
	assert.Equal(t, int64(10000), env.balance(t).SMSCredits)

	// verify after the webhook is a no-op
	code, r := env.do(t, http.MethodGet, "/api/v1/tenants/T1/topups/"+ref+"/verify", nil, map[string]string{auth.HeaderAPIKey: apiKey})
	require.Equal(t, http.StatusOK, code)
	var rec model.TopupRecord
	require.NoError(t, json.Unmarshal(r.Data, &rec))
	assert.Equal(t, model.TopupStatusPaid, rec.Status)
	assert.Equal(t, int64(10000), env.balance(t).SMSCredits)

	code, r = env.do(t, http.MethodGet, "/api/v1/tenants/T1/ledger", nil, map[string]string{auth.HeaderAPIKey: apiKey})
	require.Equal(t, http.StatusOK, code)
	var ledger struct {
		Items []model.CreditLedgerEntry `json:"items"`
		Total int64                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &ledger))
	assert.Equal(t, int64(1), ledger.Total)
	require.Len(t, ledger.Items, 1)
	assert.Equal(t, ref, ledger.Items[0].PaymentReference)
}

func TestE2E_VerifyWithoutWebhook(t *testing.T) {
	env := setupE2EEnvironment(t)

	ref := env.initiate(t, "sms-1000")
	headers := map[string]string{auth.HeaderAPIKey: apiKey}

	code, r := env.do(t, http.MethodGet, "/api/v1/tenants/T1/topups/"+ref+"/verify", nil, headers)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "topup init", r.Message)

	env.Gateway.settle(ref, gateway.TransactionSuccess)
	code, r = env.do(t, http.MethodGet, "/api/v1/tenants/T1/topups/"+ref+"/verify", nil, headers)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "topup paid", r.Message)
	assert.Equal(t, int64(1000), env.balance(t).SMSCredits)
}

func TestE2E_FailedPaymentNeverCredits(t *testing.T) {
	env := setupE2EEnvironment(t)

	ref := env.initiate(t, "sms-5000")
	assert.Equal(t, http.StatusOK, env.webhook(t, ref, gateway.TransactionFailed, signed))
	// a late success cannot revive a failed record
	assert.Equal(t, http.StatusOK, env.webhook(t, ref, gateway.TransactionSuccess, signed))

	code, r := env.do(t, http.MethodGet, "/api/v1/tenants/T1/topups/"+ref, nil, map[string]string{auth.HeaderAPIKey: apiKey})
	require.Equal(t, http.StatusOK, code)
	var rec model.TopupRecord
	require.NoError(t, json.Unmarshal(r.Data, &rec))
	assert.Equal(t, model.TopupStatusFailed, rec.Status)
	assert.Equal(t, int64(0), env.balance(t).SMSCredits)
}

func TestE2E_Rejections(t *testing.T) {
	env := setupE2EEnvironment(t)
	ref := env.initiate(t, "sms-10000")

	code := env.webhook(t, ref, gateway.TransactionSuccess, func([]byte) string { return "deadbeef" })
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, int64(0), env.balance(t).SMSCredits)

	code, _ = env.do(t, http.MethodGet, "/api/v1/tenants/T1/credits", nil, map[string]string{auth.HeaderAPIKey: "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/tenants/T2/credits", nil, map[string]string{auth.HeaderAPIKey: apiKey})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/topups", []byte(`{"churchId":"T1","bundleId":"sms-7","channel":"sms"}`),
		map[string]string{auth.HeaderAPIKey: apiKey})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestE2E_SweeperSettlesMissedWebhook(t *testing.T) {
	env := setupE2EEnvironment(t)

	ref := env.initiate(t, "sms-10000")
	env.Gateway.settle(ref, gateway.TransactionSuccess)

	svc, err := processor.NewProcessorService(env.RedisAdapter, processor.ProcessorConfig{
		Queue:          env.QueueConfig,
		Consumers:      1,
		Workers:        2,
		ReportInterval: time.Hour,
	})
	require.NoError(t, err)
	idem := processor.NewIdempotencyService(env.RedisAdapter, processor.DefaultIdempotencyConfig())
	svc.RegisterProcessor(processor.NewReverifyProcessor(env.TopupService, idem, 0))
	require.NoError(t, svc.Start())
	defer svc.Stop()

	assert.Eventually(t, func() bool {
		return env.balance(t).SMSCredits == 10000
	}, 5*time.Second, 50*time.Millisecond)

	// the webhook arriving late is a duplicate
	assert.Equal(t, http.StatusOK, env.webhook(t, ref, gateway.TransactionSuccess, signed))
	assert.Equal(t, int64(10000), env.balance(t).SMSCredits)
}
