package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/fooddelivery-saga/internal/app"
	"github.com/josh-kwaku/fooddelivery-saga/internal/gateway"
	"github.com/josh-kwaku/fooddelivery-saga/internal/notify"
)

// serveCmd wires the shared lifecycle around a participant built by build.
func serveCmd(name, short string, needsDB bool, build func(cmd *cobra.Command, d app.Deps) (*app.Service, func(), error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(name + "-service")
			if err != nil {
				return err
			}
			if err := cfg.RequireHTTP(); err != nil {
				return err
			}

			d := app.Deps{Config: cfg, Logger: logger}
			if needsDB {
				db, err := openDB(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				d.DB = db
			}

			bus, err := newBus(ctx, cfg, logger)
			if err != nil {
				return err
			}
			d.Bus = bus

			svc, cleanup, err := build(cmd, d)
			if err != nil {
				bus.Close()
				return err
			}
			if cleanup != nil {
				defer cleanup()
			}
			return svc.Run(ctx, fmt.Sprintf(":%d", cfg.Port), cfg.JWTSecret)
		},
	}
}

func orderCmd() *cobra.Command {
	return serveCmd("order", "Run the order service", true, func(_ *cobra.Command, d app.Deps) (*app.Service, func(), error) {
		svc, _ := app.NewOrder(d)
		return svc, nil, nil
	})
}

func paymentCmd() *cobra.Command {
	return serveCmd("payment", "Run the payment service", true, func(_ *cobra.Command, d app.Deps) (*app.Service, func(), error) {
		if err := d.Config.RequireGateway(); err != nil {
			return nil, nil, err
		}
		gw := gateway.NewClient(d.Config.GatewayURL, d.Config.GatewayKeySecret, d.Config.GatewayTimeout)
		svc, _ := app.NewPayment(d, gw)
		return svc, nil, nil
	})
}

func deliveryCmd() *cobra.Command {
	return serveCmd("delivery", "Run the delivery service", true, func(_ *cobra.Command, d app.Deps) (*app.Service, func(), error) {
		svc, _ := app.NewDelivery(d)
		return svc, nil, nil
	})
}

// notificationCmd publishes to Redis when REDIS_URL is set and only logs
// otherwise.
func notificationCmd() *cobra.Command {
	return serveCmd("notification", "Run the notification service", false, func(cmd *cobra.Command, d app.Deps) (*app.Service, func(), error) {
		if d.Config.RedisURL == "" {
			d.Logger.Warn("REDIS_URL not set, notifications are only logged")
			svc, _ := app.NewNotification(d, notify.NewLogSink(d.Logger), nil)
			return svc, nil, nil
		}

		client, err := notify.NewClient(cmd.Context(), d.Config.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		sink := notify.NewRedisSink(client, d.Config.NotificationHistory)
		svc, _ := app.NewNotification(d, sink, notify.NewRedisDeduper(client, d.Config.NotificationDedupTTL))
		svc.AddCheck("redis", app.RedisPinger(client))
		return svc, func() { client.Close() }, nil
	})
}
