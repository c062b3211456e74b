package engine

import (
	"fmt"
	"strings"

	"github.com/nehcuh/cherryquant/internal/market"
)

// fallbackDecision is the deterministic rule used when the model is
// unreachable or keeps replying with garbage. It scores trend (MA
// crossover plus MACD histogram sign), RSI extremes and Bollinger
// position, and only trades when the votes agree. Missing essential
// indicators mean hold with zero confidence.
func fallbackDecision(snap market.Snapshot, actx AgentContext) Decision {
	ind := snap.Indicators

	if ind.MA5 == nil || ind.MA20 == nil || ind.MACDHist == nil || ind.RSI == nil || snap.Close <= 0 {
		return Decision{
			Symbol:       snap.Symbol,
			Action:       ActionHold,
			Confidence:   0,
			Rationale:    "essential indicators missing, holding",
			MarketRegime: "unknown",
		}
	}

	votes := 0 // positive long, negative short
	reasons := []string{}

	if *ind.MA5 > *ind.MA20 {
		votes++
		reasons = append(reasons, "ma5 above ma20")
	} else if *ind.MA5 < *ind.MA20 {
		votes--
		reasons = append(reasons, "ma5 below ma20")
	}

	if *ind.MACDHist > 0 {
		votes++
		reasons = append(reasons, "macd histogram positive")
	} else if *ind.MACDHist < 0 {
		votes--
		reasons = append(reasons, "macd histogram negative")
	}

	// RSI extremes vote against the trend, fading overstretched moves.
	switch {
	case *ind.RSI >= 70:
		votes--
		reasons = append(reasons, fmt.Sprintf("rsi overbought at %.1f", *ind.RSI))
	case *ind.RSI <= 30:
		votes++
		reasons = append(reasons, fmt.Sprintf("rsi oversold at %.1f", *ind.RSI))
	}

	if ind.BollUpper != nil && ind.BollLower != nil {
		switch {
		case snap.Close >= *ind.BollUpper:
			votes--
			reasons = append(reasons, "close at upper bollinger band")
		case snap.Close <= *ind.BollLower:
			votes++
			reasons = append(reasons, "close at lower bollinger band")
		}
	}

	regime := "ranging"
	if *ind.MA5 > *ind.MA20 && *ind.MACDHist > 0 {
		regime = "trending_up"
	} else if *ind.MA5 < *ind.MA20 && *ind.MACDHist < 0 {
		regime = "trending_down"
	}

	// If we hold a position and the votes have turned against it, close
	// rather than reverse. The rule never flips in one step.
	if actx.Position != nil {
		against := (actx.Position.Direction == "long" && votes <= -2) ||
			(actx.Position.Direction == "short" && votes >= 2)
		if against {
			return Decision{
				Symbol:       snap.Symbol,
				Action:       ActionClose,
				Quantity:     actx.Position.Quantity,
				EntryPrice:   snap.Close,
				Confidence:   0.5,
				Rationale:    "indicators turned against open position: " + strings.Join(reasons, "; "),
				MarketRegime: regime,
			}
		}
		return Decision{
			Symbol:       snap.Symbol,
			Action:       ActionHold,
			Confidence:   0.3,
			Rationale:    "holding open position: " + strings.Join(reasons, "; "),
			MarketRegime: regime,
		}
	}

	if votes >= 2 {
		return entryDecision(snap, ActionBuyToEnter, votes, regime, reasons)
	}
	if votes <= -2 {
		return entryDecision(snap, ActionSellToEnter, votes, regime, reasons)
	}

	return Decision{
		Symbol:       snap.Symbol,
		Action:       ActionHold,
		Confidence:   0.2,
		Rationale:    "no consensus across indicators: " + strings.Join(reasons, "; "),
		MarketRegime: regime,
	}
}

func entryDecision(snap market.Snapshot, action Action, votes int, regime string, reasons []string) Decision {
	// Stop distance comes from ATR when available, 2% of price
	// otherwise. Target is twice the stop distance.
	stopDist := snap.Close * 0.02
	if snap.Indicators.ATR != nil && *snap.Indicators.ATR > 0 {
		stopDist = 2 * *snap.Indicators.ATR
	}

	stop := snap.Close - stopDist
	target := snap.Close + 2*stopDist
	invalidation := fmt.Sprintf("close below %.2f", stop)
	if action == ActionSellToEnter {
		stop = snap.Close + stopDist
		target = snap.Close - 2*stopDist
		invalidation = fmt.Sprintf("close above %.2f", stop)
	}

	n := votes
	if n < 0 {
		n = -n
	}
	confidence := 0.3 + 0.1*float64(n) // 2 votes -> 0.5, 4 votes -> 0.7
	if confidence > 0.7 {
		confidence = 0.7
	}

	return Decision{
		Symbol:                snap.Symbol,
		Action:                action,
		Quantity:              1,
		Leverage:              1,
		EntryPrice:            snap.Close,
		ProfitTarget:          target,
		StopLoss:              stop,
		Confidence:            confidence,
		OpportunityScore:      confidence * 100,
		Rationale:             "rule-based signal: " + strings.Join(reasons, "; "),
		MarketRegime:          regime,
		InvalidationCondition: invalidation,
	}
}
