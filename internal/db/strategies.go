package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/nehcuh/cherryquant/internal/strategy"
)

// ErrStrategyNotFound is returned when no row matches the strategy id
var ErrStrategyNotFound = errors.New("strategy not found")

// StrategyRepository persists strategy configurations so the fleet can
// be rebuilt after a restart.
type StrategyRepository struct {
	pool Pool
	log  zerolog.Logger
}

func NewStrategyRepository(pool Pool, log zerolog.Logger) *StrategyRepository {
	return &StrategyRepository{
		pool: pool,
		log:  log.With().Str("component", "strategy_repo").Logger(),
	}
}

const upsertStrategySQL = `
	INSERT INTO strategies (strategy_id, strategy_name, config, is_active, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (strategy_id) DO UPDATE SET
		strategy_name = EXCLUDED.strategy_name,
		config = EXCLUDED.config,
		is_active = EXCLUDED.is_active,
		updated_at = NOW()
`

// Save creates or updates a strategy row. The full config travels as
// JSONB; the indexed columns exist for listing and activation queries.
func (r *StrategyRepository) Save(ctx context.Context, cfg *strategy.Config) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy config: %w", err)
	}

	_, err = r.pool.Exec(ctx, upsertStrategySQL,
		cfg.StrategyID, cfg.StrategyName, configJSON, cfg.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save strategy %s: %w", cfg.StrategyID, err)
	}

	r.log.Debug().Str("strategy_id", cfg.StrategyID).Msg("Strategy saved")
	return nil
}

// Get loads one strategy config by id
func (r *StrategyRepository) Get(ctx context.Context, id string) (*strategy.Config, error) {
	var configJSON []byte
	err := r.pool.QueryRow(ctx,
		"SELECT config FROM strategies WHERE strategy_id = $1", id).Scan(&configJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy %s: %w", id, err)
	}

	var cfg strategy.Config
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strategy %s: %w", id, err)
	}
	return &cfg, nil
}

// ListActive returns the configs that should be running, ordered by id.
// The manager replays these at startup.
func (r *StrategyRepository) ListActive(ctx context.Context) ([]*strategy.Config, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT config FROM strategies WHERE is_active ORDER BY strategy_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var out []*strategy.Config
	for rows.Next() {
		var configJSON []byte
		if err := rows.Scan(&configJSON); err != nil {
			return nil, fmt.Errorf("failed to scan strategy row: %w", err)
		}
		var cfg strategy.Config
		if err := json.Unmarshal(configJSON, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal strategy row: %w", err)
		}
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

// SetActive flips the activation flag without touching the config
func (r *StrategyRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE strategies SET is_active = $2, updated_at = NOW() WHERE strategy_id = $1",
		id, active)
	if err != nil {
		return fmt.Errorf("failed to update strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return nil
}

// Delete removes a strategy row
func (r *StrategyRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM strategies WHERE strategy_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	r.log.Debug().Str("strategy_id", id).Msg("Strategy deleted")
	return nil
}
