package db

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nehcuh/cherryquant/internal/market"
	"github.com/nehcuh/cherryquant/internal/strategy"
)

func repoConfig(id string) *strategy.Config {
	return &strategy.Config{
		StrategyID:          id,
		StrategyName:        id + " momentum",
		Selector:            strategy.SymbolSelector{Symbols: []string{"rb2501"}},
		MaxSymbols:          3,
		SelectionMode:       strategy.SelectionAIDriven,
		Timeframe:           market.Timeframe1h,
		InitialCapital:      decimal.NewFromInt(1_000_000),
		MaxPositionSize:     10,
		MaxPositions:        3,
		Leverage:            5,
		RiskPerTrade:        0.02,
		DecisionIntervalSec: 300,
		ConfidenceThreshold: 0.6,
		IsActive:            true,
	}
}

func newRepo(t *testing.T) (*StrategyRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStrategyRepository(mock, zerolog.Nop()), mock
}

func TestSaveUpsertsStrategy(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec("INSERT INTO strategies").
		WithArgs("s1", "s1 momentum", pgxmock.AnyArg(), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Save(context.Background(), repoConfig("s1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRoundTripsConfig(t *testing.T) {
	repo, mock := newRepo(t)

	want := repoConfig("s1")
	configJSON, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT config FROM strategies").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"config"}).AddRow(configJSON))

	got, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, want.StrategyID, got.StrategyID)
	assert.Equal(t, want.Leverage, got.Leverage)
	assert.True(t, want.InitialCapital.Equal(got.InitialCapital))
}

func TestGetUnknownStrategy(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery("SELECT config FROM strategies").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrStrategyNotFound)
}

func TestListActiveStrategies(t *testing.T) {
	repo, mock := newRepo(t)

	a, _ := json.Marshal(repoConfig("s1"))
	b, _ := json.Marshal(repoConfig("s2"))
	mock.ExpectQuery("SELECT config FROM strategies WHERE is_active").
		WillReturnRows(pgxmock.NewRows([]string{"config"}).AddRow(a).AddRow(b))

	configs, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "s1", configs[0].StrategyID)
	assert.Equal(t, "s2", configs[1].StrategyID)
}

func TestSetActiveUnknownStrategy(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec("UPDATE strategies SET is_active").
		WithArgs("ghost", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetActive(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, ErrStrategyNotFound)
}

func TestDeleteStrategy(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec("DELETE FROM strategies").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.Delete(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
