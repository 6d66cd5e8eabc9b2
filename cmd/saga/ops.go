package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/fooddelivery-saga/internal/auth"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/idempotency"
	"github.com/josh-kwaku/fooddelivery-saga/internal/outbox"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
)

var schemaSources = []struct {
	schema string
	source string
}{
	{repository.SchemaOrders, event.SourceOrder},
	{repository.SchemaPayments, event.SourcePayment},
	{repository.SchemaDeliveries, event.SourceDelivery},
}

func relayOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay-once",
		Short: "Publish every pending outbox row once and exit",
		Long: `Drains the order, payment and delivery outboxes to Kafka a single time.

Useful after a broker outage, or in a cron where no service is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig("relay")
			if err != nil {
				return err
			}
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			bus, err := newBus(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer bus.Close()

			for _, s := range schemaSources {
				relay := outbox.NewRelay(repository.NewOutboxRepository(db, s.schema), db, bus, s.source,
					outbox.RelayConfig{BatchSize: cfg.OutboxBatchSize, MaxAttempts: cfg.OutboxMaxAttempts}, logger)
				total := 0
				for {
					n, err := relay.Flush(ctx)
					if err != nil {
						return fmt.Errorf("relay %s: %w", s.schema, err)
					}
					total += n
					if n < cfg.OutboxBatchSize {
						break
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d dispatched\n", s.schema, total)
			}
			return nil
		},
	}
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "Create every event topic and its dead-letter companion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig("topics")
			if err != nil {
				return err
			}
			if err := ensureTopics(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d topics ensured (partitions=%d, replication=%d)\n",
				len(event.AllTopics())*2, cfg.KafkaTopicPartitions, cfg.KafkaReplicationFactor)
			return nil
		},
	}
}

func replayDLQCmd() *cobra.Command {
	var (
		topics []string
		idle   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Move dead-lettered events back onto their source topics",
		Long: `Republishes every message parked on <topic>.dlq to <topic> with its key,
value and headers unchanged, then commits it on the dead-letter topic.

Events keep their eventId, so consumer groups that already applied one skip
it through their idempotency ledger. Run it once the outage that caused the
dead-lettering is over.`,
		Example: `  saga replay-dlq
  saga replay-dlq --topic payment-events --idle 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig("replay")
			if err != nil {
				return err
			}
			if len(topics) == 0 {
				topics = event.AllTopics()
			}

			bus, err := newBus(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer bus.Close()

			for _, topic := range topics {
				n, err := bus.ReplayDeadLetters(ctx, topic, idle)
				if err != nil {
					return fmt.Errorf("replay %s: %w", topic, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d replayed\n", topic, n)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topic", nil, "source topic to replay (default every topic)")
	cmd.Flags().DurationVar(&idle, "idle", 5*time.Second, "stop a topic after this long without a message")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for every service schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig("migrate")
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("migrations applied")
			return nil
		},
	}
}

func pruneLedgerCmd() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "prune-ledger",
		Short: "Delete processed-event and dispatched outbox rows past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig("prune")
			if err != nil {
				return err
			}
			if retention <= 0 {
				retention = cfg.LedgerRetention
			}
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var tables []idempotency.Prunable
			for _, s := range schemaSources {
				tables = append(tables,
					repository.NewLedgerRepository(db, s.schema),
					repository.NewOutboxRepository(db, s.schema),
				)
			}
			n := idempotency.NewPruner(retention, cfg.LedgerPruneInterval, logger, tables...).PruneOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows pruned\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 0, "override LEDGER_RETENTION")
	return cmd
}

func devTokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Mint a bearer token for local testing",
		Example: `  saga dev-token --user 101 --role customer
  saga dev-token --user 301 --role agent --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig("dev-token")
			if err != nil {
				return err
			}
			if err := cfg.RequireHTTP(); err != nil {
				return err
			}
			if !auth.ValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.GenerateToken(userID, role, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id to put in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleCustomer, "customer, restaurant or agent")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
