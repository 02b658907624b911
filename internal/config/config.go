package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type FulfillmentMode string

const (
	FulfillmentStrict  FulfillmentMode = "strict"
	FulfillmentPartial FulfillmentMode = "partial"
)

type Config struct {
	HTTPPort string
	GRPCPort string

	DBDriver       string
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	SQLitePath     string
	MigrationsPath string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers    []string
	CheckoutTopic   string
	ReconcileTopic  string
	ConsumerGroup   string
	OutboxPollEvery time.Duration
	OutboxBatchSize int

	MongoURI    string
	MongoDBName string

	PaymentGatewayURL string
	PaymentTimeout    time.Duration
	CommitTimeout     time.Duration
	FulfillmentMode   FulfillmentMode

	OTelEndpoint string
	LogLevel     string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return v, nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "50060"),

		DBDriver:       getEnv("DB_DRIVER", "sqlite"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "ecommerce"),
		SQLitePath:     getEnv("SQLITE_PATH", "./eshop.db"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		CheckoutTopic:  getEnv("KAFKA_CHECKOUT_TOPIC", "checkout-events"),
		ReconcileTopic: getEnv("KAFKA_RECONCILIATION_TOPIC", "checkout-reconciliation"),
		ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "checkout-reconciler"),

		MongoURI:    getEnv("MONGO_URI", ""),
		MongoDBName: getEnv("MONGO_DB_NAME", "eshop"),

		PaymentGatewayURL: getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
		FulfillmentMode:   FulfillmentMode(strings.ToLower(getEnv("CHECKOUT_FULFILLMENT_MODE", string(FulfillmentStrict)))),

		OTelEndpoint: getEnv("OTEL_ENDPOINT", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.DBPort, err = getEnvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.OutboxBatchSize, err = getEnvInt("OUTBOX_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.OutboxPollEvery, err = getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.PaymentTimeout, err = getEnvDuration("PAYMENT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CommitTimeout, err = getEnvDuration("CHECKOUT_COMMIT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "./internal/repository/migrations/" + cfg.DBDriver
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", c.DBDriver)
	}
	switch c.FulfillmentMode {
	case FulfillmentStrict, FulfillmentPartial:
	default:
		return fmt.Errorf("invalid CHECKOUT_FULFILLMENT_MODE %q: want strict or partial", c.FulfillmentMode)
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("invalid OUTBOX_BATCH_SIZE %d", c.OutboxBatchSize)
	}
	if c.PaymentGatewayURL == "" {
		return fmt.Errorf("PAYMENT_GATEWAY_URL is required")
	}
	return nil
}
