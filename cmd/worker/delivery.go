package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hexrift/zentla-sub005/internal/config"
	"github.com/hexrift/zentla-sub005/internal/db"
	"github.com/hexrift/zentla-sub005/internal/delivery"
	"github.com/hexrift/zentla-sub005/internal/kafka"
	"github.com/hexrift/zentla-sub005/internal/logger"
	"github.com/hexrift/zentla-sub005/internal/metrics"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Send due webhook deliveries with retry and dead-lettering",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		// attempt audit trail: best effort, delivery proceeds without it
		var attempts delivery.AttemptPublisher
		var producer *kafka.Producer
		if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.AttemptsTopic != "" {
			producer = kafka.NewProducerFromConfig(kafka.ProducerConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.AttemptsTopic,
			})
			defer producer.Close()
			attempts = &delivery.KafkaAttemptPublisher{Producer: producer}
		}

		engine := delivery.New(
			dbx,
			repository.NewDeliveriesRepository(dbx),
			repository.NewEndpointsRepository(dbx),
			repository.NewDeadLettersRepository(dbx),
			nil, // default HTTP sender
			attempts,
			delivery.Config{
				Interval:          cfg.Delivery.Interval,
				BatchSize:         cfg.Delivery.BatchSize,
				Lease:             cfg.Delivery.Lease,
				Timeout:           cfg.Delivery.Timeout,
				MaxRetries:        cfg.Delivery.MaxRetries,
				InitialDelay:      cfg.Delivery.InitialDelay,
				BackoffMultiplier: cfg.Delivery.BackoffMultiplier,
				MaxDelay:          cfg.Delivery.MaxDelay,
				ErrorMaxLen:       cfg.Delivery.ErrorMaxLen,
			},
			logger.Log,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> delivery worker started interval=%s batchSize=%d maxRetries=%d",
			cfg.Delivery.Interval, cfg.Delivery.BatchSize, cfg.Delivery.MaxRetries)

		return engine.Run(ctx)
	},
}
