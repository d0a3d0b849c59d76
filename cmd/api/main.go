package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/credit-topup/internal/auth"
	"github.com/nimasrn/credit-topup/internal/catalog"
	"github.com/nimasrn/credit-topup/internal/config"
	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/handlers"
	"github.com/nimasrn/credit-topup/internal/queue"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/internal/services"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/pg"
	"github.com/nimasrn/credit-topup/pkg/prom"
	"github.com/nimasrn/credit-topup/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	if err := logger.SetService(config.Get().AppName+"-api", config.Get().AppEnv); err != nil {
		logger.Warn("failed to tag logger with service", "error", err)
	}
	defer logger.Sync()
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	opts := xhttp.DefaultServerOption
	opts.ReadTimeout = config.Get().HttpServerReadTimeout
	opts.WriteTimeout = config.Get().HttpServerWriteTimeout
	s := xhttp.NewServer(opts)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.TimeoutMiddleware(config.Get().HttpRequestTimeout))
	s.Use(xhttp.CompressMiddleware(6))
	s.Router = xhttp.CreateDefaultRouter()

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(config.Get().PostgresRead(), config.Get().PostgresWrite(), pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	// publish only; the processor owns the consumers
	reverifyQ, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	bundles, err := catalog.Load(config.Get().BundleCatalogPath)
	if err != nil {
		logger.Error("failed to load bundle catalog", "error", err)
		return
	}

	client, err := gateway.NewClient(gateway.Config{
		BaseURL:     config.Get().PaystackBaseURL,
		SecretKey:   config.Get().PaystackSecretKey,
		CallbackURL: config.Get().PaystackCallbackURL,
		Timeout:     config.Get().GatewayTimeout,
		MaxRetries:  config.Get().GatewayMaxRetries,
		RetryDelay:  config.Get().GatewayRetryDelay,
	})
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		return
	}
	if config.Get().PaystackWebhookSecret == "" {
		logger.Warn("webhook secret is not configured, every webhook will be rejected")
	}

	topupRepo := repository.NewTopupRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	userRepo := repository.NewUserRepository(db)

	// services
	settlement := services.NewSettlementService(topupRepo, tenantRepo, ledgerRepo)
	topupService := services.NewTopupService(topupRepo, tenantRepo, ledgerRepo, bundles, client, settlement, reverifyQ,
		services.TopupConfig{Currency: config.Get().PaystackCurrency})
	webhookService := services.NewWebhookService(services.WebhookConfig{Secret: config.Get().PaystackWebhookSecret},
		topupRepo, client, settlement)

	// v1 handlers
	topupHandler := handlers.NewTopupHandler(topupService, auth.NewResolver(userRepo))
	webhookHandler := handlers.NewWebhookHandler(webhookService, webhookTimeout())
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthService{
		"postgres": db,
		"redis":    redisAdap,
	})

	g := s.Router.Group("/api/v1")
	handlers.RegisterTopupRoutes(g, topupHandler)
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(config.Get().AppDebugMetricsAddr, config.Get().AppDebugMetricsURI)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
	if err := reverifyQ.Stop(config.Get().HttpServerWriteTimeout); err != nil {
		logger.Error("failed to stop queue", "error", err)
	}
}

// webhookTimeout keeps the webhook deadline inside the request timeout, so a
// slow gateway surfaces as the service's 503 and not as a cut-off request.
func webhookTimeout() time.Duration {
	timeout, limit := config.Get().WebhookTimeout, config.Get().HttpRequestTimeout
	if limit > 0 && (timeout <= 0 || timeout >= limit) {
		clamped := limit * 3 / 4
		logger.Warn("webhook timeout must be below the request timeout, clamping",
			"webhook_timeout", timeout, "request_timeout", limit, "using", clamped)
		return clamped
	}
	return timeout
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
