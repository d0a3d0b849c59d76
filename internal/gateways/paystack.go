package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/prom"
	"github.com/valyala/fasthttp"
)

const (
	opInitialize = "initialize"
	opVerify     = "verify"
)

var (
	ErrNotConfigured    = errors.New("payment gateway secret key is not configured")
	ErrCircuitOpen      = errors.New("payment gateway circuit is open")
	ErrMissingReference = errors.New("payment gateway returned no reference")
	ErrInvalidRequest   = errors.New("invalid payment gateway request")
)

// TransientError wraps failures that may succeed on retry: network errors,
// timeouts, 5xx and 429 responses, and an open circuit.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ResponseError is a definitive answer from the gateway that the call did not
// succeed, or a body that could not be understood.
type ResponseError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

type Config struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
	// MaxRetries applies to Verify only. Initialize is never retried since a
	// lost response would otherwise create a second transaction.
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	// Dial overrides the dialer, used by tests to reach an in-memory server.
	Dial fasthttp.DialFunc
}

// Client talks to a Paystack compatible transaction API.
type Client struct {
	config  Config
	http    *fasthttp.Client
	breaker *Breaker
}

func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 64
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	c := &Client{
		config: config,
		http: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		},
		breaker: NewBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerTimeout),
	}

	logger.Info("Payment gateway client initialized", "base_url", config.BaseURL, "timeout", config.Timeout, "max_retries", config.MaxRetries)
	return c, nil
}

func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Initialize opens a transaction and returns the reference and the URL the
// payer is redirected to.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if req.Email == "" || req.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("%w: email and a positive amount are required", ErrInvalidRequest)
	}

	body, err := json.Marshal(initializeBody{
		Email:       req.Email,
		Amount:      req.AmountMinorUnits,
		Currency:    req.Currency,
		CallbackURL: c.config.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := c.call(ctx, opInitialize, fasthttp.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var data initializeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &ResponseError{Op: opInitialize, StatusCode: fasthttp.StatusOK, Message: "malformed data: " + err.Error()}
	}
	if data.Reference == "" {
		return nil, ErrMissingReference
	}

	logger.Info("Gateway transaction initialized", "reference", data.Reference, "tenant_id", req.Metadata.TenantID, "amount", req.AmountMinorUnits)

	return &InitializeResult{
		Reference:        data.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}, nil
}

// Verify fetches the authoritative status of the transaction. Transient
// failures are retried with exponential backoff.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}
	path := "/transaction/verify/" + url.PathEscape(reference)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, &TransientError{Op: opVerify, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		raw, err := c.call(ctx, opVerify, fasthttp.MethodGet, path, nil)
		if err != nil {
			if !IsTransient(err) {
				return nil, err
			}
			logger.Warn("Gateway verify failed, retrying", "reference", reference, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		var data verifyData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, &ResponseError{Op: opVerify, StatusCode: fasthttp.StatusOK, Message: "malformed data: " + err.Error()}
		}
		if data.Reference == "" || data.Status == "" {
			return nil, &ResponseError{Op: opVerify, StatusCode: fasthttp.StatusOK, Message: "verification is missing reference or status"}
		}
		if data.Reference != reference {
			return nil, &ResponseError{Op: opVerify, StatusCode: fasthttp.StatusOK, Message: fmt.Sprintf("verification is for %q", data.Reference)}
		}

		return &Verification{
			ID:               data.ID.String(),
			Reference:        data.Reference,
			Status:           strings.ToLower(data.Status),
			AmountMinorUnits: data.Amount,
			Currency:         data.Currency,
			PaidAt:           data.PaidAt,
			GatewayResponse:  data.GatewayResponse,
			Metadata:         data.Metadata,
		}, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// call performs one request and returns the envelope's data on success.
func (c *Client) call(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	if c.config.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	if !c.breaker.Allow() {
		return nil, &TransientError{Op: op, Err: ErrCircuitOpen}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	// keep escaped references such as a%2Fb intact on the wire
	req.URI().DisablePathNormalizing = true
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.config.SecretKey)
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	err := c.http.DoDeadline(req, resp, deadline)
	latency := time.Since(start)
	if err != nil {
		c.failure(op, latency)
		return nil, &TransientError{Op: op, Err: err}
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusInternalServerError || status == fasthttp.StatusTooManyRequests {
		c.failure(op, latency)
		return nil, &TransientError{Op: op, Err: &ResponseError{Op: op, StatusCode: status, Message: string(resp.Body())}}
	}
	c.breaker.Success(latency)

	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		prom.GatewayRequestDuration(latency.Seconds(), op, "malformed")
		return nil, &ResponseError{Op: op, StatusCode: status, Message: "malformed body: " + err.Error()}
	}
	if status < 200 || status > 299 || !env.Status {
		prom.GatewayRequestDuration(latency.Seconds(), op, "rejected")
		msg := env.Message
		if msg == "" {
			msg = fasthttp.StatusMessage(status)
		}
		return nil, &ResponseError{Op: op, StatusCode: status, Message: msg}
	}
	prom.GatewayRequestDuration(latency.Seconds(), op, "ok")

	return env.Data, nil
}

func (c *Client) failure(op string, latency time.Duration) {
	prom.GatewayRequestDuration(latency.Seconds(), op, "error")
	if c.breaker.Failure() {
		logger.Warn("Gateway circuit breaker opened", "op", op, "consecutive_fails", c.breaker.Metrics().ConsecutiveFails.Load(), "timeout", c.config.CircuitBreakerTimeout)
	}
}
