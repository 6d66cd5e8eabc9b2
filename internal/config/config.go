package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	DBMaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int           `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int           `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
	DBConnectTimeout   time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`

	KafkaBrokers           []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopicPartitions   int      `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	KafkaReplicationFactor int      `env:"KAFKA_REPLICATION_FACTOR" envDefault:"1"`
	KafkaAutoProvision     bool     `env:"KAFKA_AUTO_PROVISION" envDefault:"false"`

	ConsumerWorkers      int           `env:"CONSUMER_WORKERS" envDefault:"3"`
	ConsumerMaxAttempts  int           `env:"CONSUMER_MAX_ATTEMPTS" envDefault:"5"`
	ConsumerRetryBackoff time.Duration `env:"CONSUMER_RETRY_BACKOFF" envDefault:"200ms"`

	OutboxPollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"200ms"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxAttempts   int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"0"`
	LedgerRetention     time.Duration `env:"LEDGER_RETENTION" envDefault:"168h"`
	LedgerPruneInterval time.Duration `env:"LEDGER_PRUNE_INTERVAL" envDefault:"1h"`

	GatewayURL       string        `env:"GATEWAY_URL" envDefault:"http://localhost:8081"`
	GatewayKeySecret string        `env:"GATEWAY_KEY_SECRET"`
	GatewayTimeout   time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"5s"`

	RedisURL             string        `env:"REDIS_URL"`
	NotificationDedupTTL time.Duration `env:"NOTIFICATION_DEDUP_TTL" envDefault:"24h"`
	NotificationHistory  int           `env:"NOTIFICATION_HISTORY" envDefault:"50"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.KafkaTopicPartitions < 1 {
		return errors.New("KAFKA_TOPIC_PARTITIONS must be at least 1")
	}
	if c.KafkaReplicationFactor < 1 {
		return errors.New("KAFKA_REPLICATION_FACTOR must be at least 1")
	}
	if c.ConsumerMaxAttempts < 1 {
		return errors.New("CONSUMER_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// RequireDatabase is checked by every command that owns an aggregate.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// RequireHTTP is checked by every command that serves the HTTP API.
func (c *Config) RequireHTTP() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func (c *Config) RequireGateway() error {
	if c.GatewayURL == "" || c.GatewayKeySecret == "" {
		return errors.New("GATEWAY_URL and GATEWAY_KEY_SECRET are required")
	}
	return nil
}
