package agent

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nehcuh/cherryquant/internal/broker"
	"github.com/nehcuh/cherryquant/internal/engine"
	"github.com/nehcuh/cherryquant/internal/strategy"
)

func sizingConfig() *strategy.Config {
	return &strategy.Config{
		MaxPositionSize: 10,
		Leverage:        5,
		RiskPerTrade:    0.02,
	}
}

func entryDecision(qty int, entry, stop float64) engine.Decision {
	return engine.Decision{
		Symbol:     "rb2501",
		Action:     engine.ActionBuyToEnter,
		Quantity:   qty,
		EntryPrice: entry,
		StopLoss:   stop,
	}
}

func TestSizeEntryRiskBudgetBinds(t *testing.T) {
	book := NewBook(decimal.NewFromInt(1_000_000))

	// Risk budget: 0.02 * 1M = 20000. Per-lot risk: 100 * 10 = 1000.
	// Risk allows 20 lots but the request and max_position_size cap at 10.
	qty := sizeEntry(entryDecision(50, 3500, 3400), sizingConfig(), book, 10)
	assert.Equal(t, 10, qty)

	// A wider stop shrinks the risk allowance below the caps:
	// per-lot risk 500*10 = 5000, budget 20000 -> 4 lots.
	qty = sizeEntry(entryDecision(50, 3500, 3000), sizingConfig(), book, 10)
	assert.Equal(t, 4, qty)
}

func TestSizeEntryRespectsHeldQuantity(t *testing.T) {
	book := NewBook(decimal.NewFromInt(10_000_000))
	require.NoError(t, book.OpenFill(broker.Fill{
		Symbol: "rb2501", Direction: broker.DirectionLong, Quantity: 8, Price: 3500,
	}, 10, 5, 0, 0))

	qty := sizeEntry(entryDecision(10, 3500, 3400), sizingConfig(), book, 10)
	assert.Equal(t, 2, qty)
}

func TestSizeEntryMarginBinds(t *testing.T) {
	book := NewBook(decimal.NewFromInt(30_000))

	// Per-lot margin 3500*10/5 = 7000 -> 4 lots affordable. Risk budget
	// 0.02*30000 = 600 against 1000 per-lot risk -> 0 lots.
	cfg := sizingConfig()
	cfg.RiskPerTrade = 1 // disable the risk constraint for this case
	qty := sizeEntry(entryDecision(10, 3500, 3400), cfg, book, 10)
	assert.Equal(t, 4, qty)
}

func TestSizeEntryZeroWhenNothingFits(t *testing.T) {
	book := NewBook(decimal.NewFromInt(1_000))
	qty := sizeEntry(entryDecision(5, 3500, 3400), sizingConfig(), book, 10)
	assert.Equal(t, 0, qty)
}

func TestSizeEntryRejectsDegenerateInputs(t *testing.T) {
	book := NewBook(decimal.NewFromInt(1_000_000))
	assert.Equal(t, 0, sizeEntry(entryDecision(0, 3500, 3400), sizingConfig(), book, 10))
	assert.Equal(t, 0, sizeEntry(entryDecision(5, 0, 0), sizingConfig(), book, 10))
}

func TestSizeEntryUsesLowerOfConfiguredAndDecisionLeverage(t *testing.T) {
	book := NewBook(decimal.NewFromInt(80_000))
	cfg := sizingConfig()
	cfg.RiskPerTrade = 1

	d := entryDecision(10, 3500, 3400)
	d.Leverage = 2 // per-lot margin 3500*10/2 = 17500 -> 4 lots
	assert.Equal(t, 4, sizeEntry(d, cfg, book, 10))

	d.Leverage = 20 // capped at the configured 5x -> 7000/lot -> 10 lots
	assert.Equal(t, 10, sizeEntry(d, cfg, book, 10))
}
