package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nehcuh/cherryquant/internal/market"
)

func snapWith(close float64, ind market.Indicators) market.Snapshot {
	return market.Snapshot{
		Symbol:    "rb2501",
		Timeframe: market.Timeframe1h,
		AsOf:      time.Now(),
		Open:      close - 5,
		High:      close + 10,
		Low:       close - 10,
		Close:     close,
		Volume:    10000,
		Indicators: ind,
	}
}

func bullishIndicators() market.Indicators {
	return market.Indicators{
		MA5:      market.Float(3520),
		MA20:     market.Float(3480),
		MACDHist: market.Float(4.2),
		RSI:      market.Float(55),
		ATR:      market.Float(30),
	}
}

func TestFallbackHoldsOnMissingIndicators(t *testing.T) {
	d := fallbackDecision(snapWith(3500, market.Indicators{}), AgentContext{})
	assert.Equal(t, ActionHold, d.Action)
	assert.Zero(t, d.Confidence)
}

func TestFallbackLongEntryOnBullishConsensus(t *testing.T) {
	d := fallbackDecision(snapWith(3500, bullishIndicators()), AgentContext{})

	require.Equal(t, ActionBuyToEnter, d.Action)
	assert.Equal(t, 1, d.Quantity)
	assert.Equal(t, "trending_up", d.MarketRegime)
	assert.Less(t, d.StopLoss, d.EntryPrice, "long stop must sit below entry")
	assert.Greater(t, d.ProfitTarget, d.EntryPrice)
	assert.InDelta(t, 3500-60, d.StopLoss, 1e-9, "stop distance should be 2x ATR")
	assert.NotEmpty(t, d.InvalidationCondition)
}

func TestFallbackShortEntryOnBearishConsensus(t *testing.T) {
	ind := market.Indicators{
		MA5:      market.Float(3450),
		MA20:     market.Float(3520),
		MACDHist: market.Float(-3.1),
		RSI:      market.Float(45),
	}
	d := fallbackDecision(snapWith(3440, ind), AgentContext{})

	require.Equal(t, ActionSellToEnter, d.Action)
	assert.Greater(t, d.StopLoss, d.EntryPrice, "short stop must sit above entry")
	assert.Less(t, d.ProfitTarget, d.EntryPrice)
	assert.Equal(t, "trending_down", d.MarketRegime)
}

func TestFallbackNoEntryWithoutConsensus(t *testing.T) {
	// Trend up but deeply overbought and at the upper band: votes cancel.
	ind := market.Indicators{
		MA5:       market.Float(3520),
		MA20:      market.Float(3480),
		MACDHist:  market.Float(4.2),
		RSI:       market.Float(78),
		BollUpper: market.Float(3495),
		BollLower: market.Float(3400),
	}
	d := fallbackDecision(snapWith(3500, ind), AgentContext{})
	assert.Equal(t, ActionHold, d.Action)
}

func TestFallbackClosesPositionWhenVotesTurn(t *testing.T) {
	ind := market.Indicators{
		MA5:      market.Float(3450),
		MA20:     market.Float(3520),
		MACDHist: market.Float(-3.1),
		RSI:      market.Float(45),
	}
	actx := AgentContext{
		Position: &PositionSummary{Direction: "long", Quantity: 3, EntryPrice: 3510},
	}
	d := fallbackDecision(snapWith(3440, ind), actx)

	require.Equal(t, ActionClose, d.Action)
	assert.Equal(t, 3, d.Quantity)
}

func TestFallbackHoldsPositionWhileVotesAgree(t *testing.T) {
	actx := AgentContext{
		Position: &PositionSummary{Direction: "long", Quantity: 2, EntryPrice: 3480},
	}
	d := fallbackDecision(snapWith(3500, bullishIndicators()), actx)
	assert.Equal(t, ActionHold, d.Action, "never pyramids into an open position")
}

func TestFallbackStopDistanceWithoutATR(t *testing.T) {
	ind := bullishIndicators()
	ind.ATR = nil
	d := fallbackDecision(snapWith(3500, ind), AgentContext{})

	require.Equal(t, ActionBuyToEnter, d.Action)
	assert.InDelta(t, 3500*0.98, d.StopLoss, 1e-9, "stop falls back to 2 percent of price")
}
