package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hexrift/zentla-sub005/internal/archiver"
	"github.com/hexrift/zentla-sub005/internal/config"
	"github.com/hexrift/zentla-sub005/internal/db"
	"github.com/hexrift/zentla-sub005/internal/kafka"
	"github.com/hexrift/zentla-sub005/internal/logger"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/spf13/cobra"
)

var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Archive delivery attempts from Kafka into ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "zentla-archiver"
		}

		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.AttemptsTopic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		w := archiver.New(consumer, repository.NewCHAttemptsRepository(chDB), logger.Log)
		if cfg.Archiver.BatchSize > 0 {
			w.BatchSize = cfg.Archiver.BatchSize
		}
		if cfg.Archiver.BatchWait > 0 {
			w.BatchWait = cfg.Archiver.BatchWait
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> archiver started topic=%s group=%s batchSize=%d batchWait=%s",
			cfg.Kafka.AttemptsTopic, groupID, w.BatchSize, w.BatchWait)

		return w.Run(ctx)
	},
}
