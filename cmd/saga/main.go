package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/fooddelivery-saga/internal/config"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus/kafkabus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "saga",
		Short:         "Food delivery order fulfillment services",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(deliveryCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(relayOnceCmd())
	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(replayDLQCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pruneLedgerCmd())
	rootCmd.AddCommand(devTokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and sets up the process logger under
// the given service name.
func loadConfig(service string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Init(service, cfg.LogLevel, cfg.AppEnv), nil
}

// openDB connects and brings every service schema up to date.
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectTimeout:   cfg.DBConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func retryPolicy(cfg *config.Config) eventbus.RetryPolicy {
	p := eventbus.DefaultRetryPolicy()
	p.MaxAttempts = cfg.ConsumerMaxAttempts
	p.InitialInterval = cfg.ConsumerRetryBackoff
	return p
}

// newBus returns the Kafka bus, creating topics first when
// KAFKA_AUTO_PROVISION is set.
func newBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*kafkabus.Bus, error) {
	if cfg.KafkaAutoProvision {
		if err := ensureTopics(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return kafkabus.New(kafkabus.Config{
		Brokers: cfg.KafkaBrokers,
		Workers: cfg.ConsumerWorkers,
		Policy:  retryPolicy(cfg),
	}, logger), nil
}

func ensureTopics(ctx context.Context, cfg *config.Config) error {
	configs := kafkabus.TopicConfigs(event.AllTopics(), kafkabus.TopicSpec{
		Partitions:        cfg.KafkaTopicPartitions,
		ReplicationFactor: cfg.KafkaReplicationFactor,
	}, event.DeadLetterTopic)
	if err := kafkabus.EnsureTopics(ctx, cfg.KafkaBrokers, configs); err != nil {
		return fmt.Errorf("ensure topics: %w", err)
	}
	return nil
}
