package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/hexrift/zentla-sub005/internal/config"
	"github.com/hexrift/zentla-sub005/internal/db"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo workspaces and endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo workspaces...")

		if err := seedWorkspaces(sqlDB); err != nil {
			return err
		}
		if err := seedEndpoints(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedWorkspaces inserts deterministic demo workspaces (idempotent).
func seedWorkspaces(dbx *sqlx.DB) error {
	workspaces := []model.Workspace{
		{
			Name:         "Acme Billing",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Foobar SaaS",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Suspended Inc",
			APIKey:       "33333333333333333333333333333333",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO workspaces
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, w := range workspaces {
		if _, err := tx.Exec(q, w.Name, w.APIKey, w.Status, w.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert workspace %q: %w", w.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workspaces: %w", err)
	}
	return nil
}

// seedEndpoints gives the first workspace a catch-all demo endpoint when it
// has none yet.
func seedEndpoints(dbx *sqlx.DB) error {
	var wsID int64
	if err := dbx.Get(&wsID, `SELECT id FROM workspaces WHERE api_key = ?`, "11111111111111111111111111111111"); err != nil {
		return fmt.Errorf("lookup demo workspace: %w", err)
	}

	var n int
	if err := dbx.Get(&n, `SELECT COUNT(*) FROM webhook_endpoints WHERE workspace_id = ?`, wsID); err != nil {
		return fmt.Errorf("count endpoints: %w", err)
	}
	if n > 0 {
		return nil
	}

	events := model.EventTypes{
		"subscription.created",
		"subscription.canceled",
		"invoice.paid",
		"invoice.payment_failed",
	}
	now := time.Now()
	const q = `
INSERT INTO webhook_endpoints
    (id, workspace_id, url, secret, events, status, description, metadata, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, 'active', ?, '{}', ?, ?)
`
	_, err := dbx.Exec(q,
		util.New(), wsID,
		"https://example.com/hooks/zentla",
		util.NewSecret(),
		events, "demo endpoint", now, now,
	)
	if err != nil {
		return fmt.Errorf("insert demo endpoint: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
