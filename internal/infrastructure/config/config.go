package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	HTTPPort     int
	GRPCPort     int
	Storage      string
	CurrencyFile string
	DB           DBConfig
	Kafka        KafkaConfig
	Telemetry    TelemetryConfig
	Retry        RetryConfig
	Outbox       OutboxConfig
	LogLevel     string
	LogFormat    string

	// GRPCReflection exposes the gRPC reflection service.
	GRPCReflection bool
}

type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxConns     int32
	MinConns     int32
	AutoMigrate  bool
	SeedCurrency bool

	StatementTimeout time.Duration
	ConnectTimeout   time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	// EventsTopic receives allocation, payment and settlement events.
	EventsTopic string
	// PayablesTopic announces payables created or deleted on the invoicing side.
	PayablesTopic string
	Enabled       bool
	TLS           bool
	SASLEnabled   bool
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
	// HandlerAttempts bounds redelivery of a payable event that keeps failing.
	HandlerAttempts int
}

type TelemetryConfig struct {
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Load reads configuration from environment variables with defaults. A .env
// file in the working directory is loaded first when present; variables
// already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPPort:     getEnvInt("HTTP_PORT", 8090),
		GRPCPort:     getEnvInt("GRPC_PORT", 9090),
		Storage:      getEnv("STORAGE", StoragePostgres),
		CurrencyFile: getEnv("CURRENCY_FILE", ""),
		DB: DBConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "bib"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "bib_reconciliation"),
			SSLMode:      getEnv("DB_SSLMODE", "require"),
			MaxConns:     int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns:     int32(getEnvInt("DB_MIN_CONNS", 5)),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
			SeedCurrency: getEnvBool("DB_SEED_CURRENCIES", false),

			StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
			ConnectTimeout:   getEnvDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "reconciliation-service"),
			EventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "bib.reconciliation.allocations"),
			PayablesTopic: getEnv("KAFKA_PAYABLES_TOPIC", "bib.invoicing.payables"),
			Enabled:       getEnvBool("KAFKA_ENABLED", true),
			TLS:           getEnvBool("KAFKA_TLS", false),
			SASLEnabled:   getEnvBool("KAFKA_SASL_ENABLED", false),
			SASLMechanism: getEnv("KAFKA_SASL_MECHANISM", "PLAIN"),
			SASLUsername:  getEnv("KAFKA_SASL_USERNAME", ""),
			SASLPassword:  getEnv("KAFKA_SASL_PASSWORD", ""),

			HandlerAttempts: getEnvInt("KAFKA_HANDLER_ATTEMPTS", 5),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    "reconciliation-service",
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
			Environment:    getEnv("ENVIRONMENT", "development"),
		},
		Retry: RetryConfig{
			MaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 5),
			InitialInterval: getEnvDuration("RETRY_INITIAL_INTERVAL", 20*time.Millisecond),
			MaxInterval:     getEnvDuration("RETRY_MAX_INTERVAL", 500*time.Millisecond),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		GRPCReflection: getEnvBool("GRPC_REFLECTION", false),
	}
}

// Validate checks required configuration values.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StoragePostgres:
		if c.DB.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD environment variable is required"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Outbox.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1, got %d", c.Outbox.BatchSize))
	}
	if c.Outbox.PollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
