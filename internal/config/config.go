package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/pg"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every setting the processes read at start. Nothing else in the
// module touches the environment directly; components receive the values they
// need through their constructors.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=credit_topup"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	HttpListenAddr         string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=20s"`
	HttpServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=5s"`
	HttpServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=25s"`

	// WebhookTimeout bounds one webhook delivery and must stay below
	// HttpRequestTimeout.
	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT,default=15s"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	PostgresSSLMode         string        `env:"POSTGRES_SSLMODE,default=disable"`
	PostgresMaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`
	PostgresMaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS,default=5"`
	PostgresConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME,default=30m"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE,default=credit_topup"`

	PaystackBaseURL       string        `env:"PAYSTACK_BASE_URL,default=https://api.paystack.co"`
	PaystackSecretKey     string        `env:"PAYSTACK_SECRET_KEY"`
	PaystackWebhookSecret string        `env:"PAYSTACK_WEBHOOK_SECRET"`
	PaystackCurrency      string        `env:"PAYSTACK_CURRENCY,default=GHS"`
	PaystackCallbackURL   string        `env:"PAYSTACK_CALLBACK_URL"`
	GatewayTimeout        time.Duration `env:"GATEWAY_TIMEOUT,default=10s"`
	GatewayMaxRetries     int           `env:"GATEWAY_MAX_RETRIES,default=2"`
	GatewayRetryDelay     time.Duration `env:"GATEWAY_RETRY_DELAY,default=200ms"`

	BundleCatalogPath string `env:"BUNDLE_CATALOG_PATH"`

	QueueName              string        `env:"QUEUE_NAME,default=topups:verify"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=reverifier"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueConsumers         int           `env:"QUEUE_CONSUMERS,default=2"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=12"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=5m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	ReverifyMinAge  time.Duration `env:"REVERIFY_MIN_AGE,default=10m"`
	ReverifyWorkers int           `env:"REVERIFY_WORKERS,default=8"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

// Set installs c as the active configuration.
func Set(c *Config) {
	config = c
}

// PostgresRead returns the pool settings for the read replica.
func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:            c.PostgresReadUser,
		Host:            c.PostgresReadHost,
		Port:            c.PostgresReadPort,
		Password:        c.PostgresReadPassword,
		Database:        c.PostgresReadDatabase,
		SSLMode:         c.PostgresSSLMode,
		MaxOpenConns:    c.PostgresMaxOpenConns,
		MaxIdleConns:    c.PostgresMaxIdleConns,
		ConnMaxLifetime: c.PostgresConnMaxLifetime,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:            c.PostgresWriteUser,
		Host:            c.PostgresWriteHost,
		Port:            c.PostgresWritePort,
		Password:        c.PostgresWritePassword,
		Database:        c.PostgresWriteDatabase,
		SSLMode:         c.PostgresSSLMode,
		MaxOpenConns:    c.PostgresMaxOpenConns,
		MaxIdleConns:    c.PostgresMaxIdleConns,
		ConnMaxLifetime: c.PostgresConnMaxLifetime,
	}
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
