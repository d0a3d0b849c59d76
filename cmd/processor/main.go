package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/credit-topup/internal/catalog"
	"github.com/nimasrn/credit-topup/internal/config"
	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	"github.com/nimasrn/credit-topup/internal/processor"
	"github.com/nimasrn/credit-topup/internal/queue"
	"github.com/nimasrn/credit-topup/internal/repository"
	"github.com/nimasrn/credit-topup/internal/services"
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
	if err := logger.SetService(config.Get().AppName+"-processor", config.Get().AppEnv); err != nil {
		logger.Warn("failed to tag logger with service", "error", err)
	}
	defer logger.Sync()
	logger.Info("starting reverify processor", "version", version, "commit", commit, "date", date)

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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

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

	topupRepo := repository.NewTopupRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	bundles, err := catalog.Load(config.Get().BundleCatalogPath)
	if err != nil {
		logger.Error("failed to load bundle catalog", "error", err)
		return
	}

	settlement := services.NewSettlementService(topupRepo, tenantRepo, ledgerRepo)
	// the sweeper never initiates, so it has nothing to publish
	topupService := services.NewTopupService(topupRepo, tenantRepo, ledgerRepo, bundles, client, settlement, nil,
		services.TopupConfig{Currency: config.Get().PaystackCurrency})

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())

	service, err := processor.NewProcessorService(redisAdap, processor.ProcessorConfig{
		Queue: queue.QueueConfig{
			Name:              config.Get().QueueName,
			ConsumerGroup:     config.Get().QueueConsumerGroup,
			ConsumerName:      config.Get().QueueConsumerName,
			MaxRetries:        config.Get().QueueMaxRetries,
			VisibilityTimeout: config.Get().QueueVisibilityTimeout,
			PollInterval:      config.Get().QueuePollInterval,
			BatchSize:         config.Get().QueueBatchSize,
			MaxLen:            config.Get().QueueMaxLen,
			EnableDLQ:         config.Get().QueueEnableDLQ,
		},
		Consumers: config.Get().QueueConsumers,
		Workers:   config.Get().ReverifyWorkers,
	})
	if err != nil {
		logger.Error("failed to run the processor", "error", err)
		return
	}
	service.RegisterProcessor(processor.NewReverifyProcessor(topupService, idempotencyService, config.Get().ReverifyMinAge))

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(config.Get().AppDebugMetricsAddr, config.Get().AppDebugMetricsURI)
	}()

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		service.Stop()
		return
	}

	<-c
	service.Stop()
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
