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
	"github.com/hexrift/zentla-sub005/internal/fanout"
	"github.com/hexrift/zentla-sub005/internal/logger"
	"github.com/hexrift/zentla-sub005/internal/metrics"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var fanoutCmd = &cobra.Command{
	Use:   "fanout",
	Short: "Expand pending outbox events into per-endpoint deliveries",
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

		engine := fanout.New(
			dbx,
			repository.NewOutboxRepository(dbx),
			repository.NewEndpointsRepository(dbx),
			repository.NewDeliveriesRepository(dbx),
			fanout.Config{
				Interval:  cfg.FanOut.Interval,
				BatchSize: cfg.FanOut.BatchSize,
				Lease:     cfg.FanOut.Lease,
			},
			logger.Log,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> fanout worker started interval=%s batchSize=%d", cfg.FanOut.Interval, cfg.FanOut.BatchSize)

		return engine.Run(ctx)
	},
}
