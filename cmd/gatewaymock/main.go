package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transaction is one payment held by the mock gateway
type Transaction struct {
	ID        int64            `json:"id"`
	Reference string           `json:"reference"`
	Email     string           `json:"email"`
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency"`
	Status    string           `json:"status"`
	PaidAt    *time.Time       `json:"paid_at"`
	Metadata  gateway.Metadata `json:"metadata"`
}

// InitializeRequest mirrors the gateway's transaction/initialize body
type InitializeRequest struct {
	Email       string           `json:"email" binding:"required"`
	Amount      int64            `json:"amount" binding:"required,gt=0"`
	Currency    string           `json:"currency"`
	CallbackURL string           `json:"callback_url"`
	Metadata    gateway.Metadata `json:"metadata"`
}

// SimulateRequest drives a transaction to a final state
type SimulateRequest struct {
	Outcome string `json:"outcome"`
	// Amount overrides the charged amount to exercise mismatch handling.
	Amount *int64 `json:"amount"`
	// Deliveries sends the same webhook more than once.
	Deliveries int `json:"deliveries"`
}

// MockGateway simulates the payment gateway endpoints the api calls
type MockGateway struct {
	mu           sync.Mutex
	transactions map[string]*Transaction
	nextID       int64

	secretKey     string
	webhookSecret string
	webhookURL    string
	failureRate   float64
	rng           *rand.Rand
	client        *http.Client
}

func NewMockGateway(secretKey, webhookSecret, webhookURL string, failureRate float64) *MockGateway {
	return &MockGateway{
		transactions:  make(map[string]*Transaction),
		nextID:        1000,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		webhookURL:    webhookURL,
		failureRate:   failureRate,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MockGateway) shouldFail() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.failureRate
}

func (m *MockGateway) get(reference string) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[reference]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{"status": true, "message": message, "data": data})
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"status": false, "message": message})
}

// Handler holds the mock gateway and routes
type Handler struct {
	gw *MockGateway
}

func NewHandler(gw *MockGateway) *Handler {
	return &Handler{gw: gw}
}

// Authorize rejects requests without the configured secret key
func (h *Handler) Authorize(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+h.gw.secretKey {
		fail(c, http.StatusUnauthorized, "Invalid key")
		c.Abort()
		return
	}
	c.Next()
}

// Flaky answers 503 for a share of requests
func (h *Handler) Flaky(c *gin.Context) {
	if h.gw.shouldFail() {
		fail(c, http.StatusServiceUnavailable, "Gateway temporarily unavailable")
		c.Abort()
		return
	}
	c.Next()
}

func (h *Handler) Initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Currency == "" {
		req.Currency = "GHS"
	}

	h.gw.mu.Lock()
	h.gw.nextID++
	tx := &Transaction{
		ID:        h.gw.nextID,
		Reference: "mock_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16],
		Email:     req.Email,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    "ongoing",
		Metadata:  req.Metadata,
	}
	h.gw.transactions[tx.Reference] = tx
	h.gw.mu.Unlock()

	log.Info().
		Str("reference", tx.Reference).
		Int64("amount", tx.Amount).
		Str("tenant_id", tx.Metadata.TenantID).
		Msg("Transaction initialized")

	ok(c, "Authorization URL created", gin.H{
		"authorization_url": "https://checkout.mock.local/" + tx.Reference,
		"access_code":       uuid.New().String()[:12],
		"reference":         tx.Reference,
	})
}

func (h *Handler) Verify(c *gin.Context) {
	tx, found := h.gw.get(c.Param("reference"))
	if !found {
		fail(c, http.StatusNotFound, "Transaction reference not found")
		return
	}

	ok(c, "Verification successful", gin.H{
		"id":               tx.ID,
		"status":           tx.Status,
		"reference":        tx.Reference,
		"amount":           tx.Amount,
		"currency":         tx.Currency,
		"paid_at":          tx.PaidAt,
		"gateway_response": gatewayResponse(tx.Status),
		"metadata":         tx.Metadata,
	})
}

// Simulate settles a transaction and posts the signed webhook to the api
func (h *Handler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Outcome == "" {
		req.Outcome = gateway.TransactionSuccess
	}
	if req.Deliveries <= 0 {
		req.Deliveries = 1
	}

	h.gw.mu.Lock()
	tx, found := h.gw.transactions[c.Param("reference")]
	if found {
		tx.Status = req.Outcome
		if req.Amount != nil {
			tx.Amount = *req.Amount
		}
		if req.Outcome == gateway.TransactionSuccess {
			now := time.Now().UTC()
			tx.PaidAt = &now
		}
	}
	var snapshot Transaction
	if found {
		snapshot = *tx
	}
	h.gw.mu.Unlock()

	if !found {
		fail(c, http.StatusNotFound, "Transaction reference not found")
		return
	}

	codes := make([]int, 0, req.Deliveries)
	for i := 0; i < req.Deliveries; i++ {
		code, err := h.gw.deliver(c.Request.Context(), snapshot)
		if err != nil {
			log.Warn().Err(err).Str("reference", snapshot.Reference).Msg("Webhook delivery failed")
			fail(c, http.StatusBadGateway, err.Error())
			return
		}
		codes = append(codes, code)
	}

	ok(c, "Webhook delivered", gin.H{"reference": snapshot.Reference, "status": snapshot.Status, "responses": codes})
}

// SetFailureRate changes the share of 503 answers at runtime
func (h *Handler) SetFailureRate(c *gin.Context) {
	var config struct {
		FailureRate *float64 `json:"failure_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if config.FailureRate != nil && *config.FailureRate >= 0 && *config.FailureRate <= 1.0 {
		h.gw.mu.Lock()
		h.gw.failureRate = *config.FailureRate
		h.gw.mu.Unlock()
		log.Info().Float64("rate", *config.FailureRate).Msg("Updated failure rate")
	}
	ok(c, "Configuration updated", nil)
}

func (m *MockGateway) deliver(ctx context.Context, tx Transaction) (int, error) {
	if m.webhookURL == "" {
		return 0, fmt.Errorf("WEBHOOK_URL is not set")
	}

	event := "charge.success"
	if tx.Status != gateway.TransactionSuccess {
		event = "charge.failed"
	}
	body, err := json.Marshal(gin.H{
		"event": event,
		"data": gin.H{
			"id":        tx.ID,
			"reference": tx.Reference,
			"status":    tx.Status,
			"amount":    tx.Amount,
			"currency":  tx.Currency,
			"paid_at":   tx.PaidAt,
			"metadata":  tx.Metadata,
		},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.SignatureHeader, gateway.Sign(m.webhookSecret, body))

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	log.Info().
		Str("reference", tx.Reference).
		Str("event", event).
		Int("status", resp.StatusCode).
		Msg("Webhook delivered")
	return resp.StatusCode, nil
}

func gatewayResponse(status string) string {
	switch status {
	case gateway.TransactionSuccess:
		return "Approved"
	case gateway.TransactionFailed:
		return "Declined"
	}
	return "Transaction in progress"
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	tx := router.Group("/transaction", handler.Authorize, handler.Flaky)
	{
		tx.POST("/initialize", handler.Initialize)
		tx.GET("/verify/:reference", handler.Verify)
	}

	router.POST("/simulate/:reference", handler.Simulate)
	router.PUT("/config", handler.SetFailureRate)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	secretKey := getEnv("PAYSTACK_SECRET_KEY", "sk_test_mock")
	webhookSecret := getEnv("PAYSTACK_WEBHOOK_SECRET", secretKey)
	webhookURL := getEnv("WEBHOOK_URL", "http://localhost:8080/api/v1/webhooks/paystack")
	failureRate := getEnvFloat("FAILURE_RATE", 0)

	log.Info().
		Str("port", port).
		Str("webhook_url", webhookURL).
		Float64("failure_rate", failureRate).
		Msg("Starting mock payment gateway")

	gin.SetMode(gin.ReleaseMode)
	handler := NewHandler(NewMockGateway(secretKey, webhookSecret, webhookURL, failureRate))
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}
