package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Migration is one numbered schema step. Migrations are embedded in the
// binary so a deployment cannot drift from the code it runs.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "strategies table",
		SQL: `
			CREATE TABLE IF NOT EXISTS strategies (
				strategy_id   TEXT PRIMARY KEY,
				strategy_name TEXT NOT NULL,
				config        JSONB NOT NULL,
				is_active     BOOLEAN NOT NULL DEFAULT FALSE,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		Version:     2,
		Description: "decisions journal",
		SQL: `
			CREATE TABLE IF NOT EXISTS decisions (
				decision_id TEXT PRIMARY KEY,
				strategy_id TEXT NOT NULL,
				symbol      TEXT NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL,
				outcome     TEXT NOT NULL,
				record      JSONB NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_decisions_strategy
				ON decisions (strategy_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_decisions_created
				ON decisions (created_at DESC);
		`,
	},
	{
		Version:     3,
		Description: "alerts log",
		SQL: `
			CREATE TABLE IF NOT EXISTS alerts (
				id          BIGSERIAL PRIMARY KEY,
				severity    TEXT NOT NULL,
				kind        TEXT NOT NULL,
				strategy_id TEXT,
				message     TEXT NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_alerts_created
				ON alerts (created_at DESC);
		`,
	},
	{
		Version:     4,
		Description: "portfolio snapshots",
		SQL: `
			CREATE TABLE IF NOT EXISTS portfolio_snapshots (
				id            BIGSERIAL PRIMARY KEY,
				total_capital DOUBLE PRECISION NOT NULL,
				total_equity  DOUBLE PRECISION NOT NULL,
				used_margin   DOUBLE PRECISION NOT NULL,
				capital_usage DOUBLE PRECISION NOT NULL,
				daily_pnl     DOUBLE PRECISION NOT NULL,
				drawdown      DOUBLE PRECISION NOT NULL,
				halted        BOOLEAN NOT NULL,
				agent_count   INTEGER NOT NULL,
				taken_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_portfolio_snapshots_taken
				ON portfolio_snapshots (taken_at DESC);
		`,
	},
}

// Migrator applies pending schema migrations in order
type Migrator struct {
	pool Pool
	log  zerolog.Logger
}

func NewMigrator(pool Pool, log zerolog.Logger) *Migrator {
	return &Migrator{pool: pool, log: log.With().Str("component", "migrator").Logger()}
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Version returns the highest applied migration version
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var version int
	err := m.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every migration newer than the current version, each
// in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := m.Version(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}
		applied++
	}

	if applied == 0 {
		m.log.Info().Int("version", current).Msg("Schema is up to date")
	} else {
		m.log.Info().
			Int("applied", applied).
			Int("version", migrations[len(migrations)-1].Version).
			Msg("Schema migrations applied")
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_version (version, description) VALUES ($1, $2)",
		mig.Version, mig.Description,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
