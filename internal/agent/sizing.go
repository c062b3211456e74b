package agent

import (
	"math"

	"github.com/nehcuh/cherryquant/internal/engine"
	"github.com/nehcuh/cherryquant/internal/strategy"
)

// sizeEntry caps an entry quantity so the position respects the
// strategy's limits. The binding constraints are, in order:
//
//   - the decision's own requested quantity
//   - max_position_size minus lots already held in the symbol
//   - risk_per_trade * available_cash / (|entry - stop| * multiplier)
//   - margin affordability at the configured leverage
//
// Returns zero when no lot fits.
func sizeEntry(d engine.Decision, cfg *strategy.Config, book *Book, multiplier int) int {
	if d.Quantity <= 0 || d.EntryPrice <= 0 {
		return 0
	}
	qty := d.Quantity

	held := 0
	if pos, ok := book.Position(d.Symbol); ok {
		held = pos.Quantity
	}
	if room := cfg.MaxPositionSize - held; room < qty {
		qty = room
	}
	if qty <= 0 {
		return 0
	}

	cash, _ := book.AvailableCash().Float64()

	// Risk budget: losing the full stop distance on every lot must not
	// cost more than risk_per_trade of available cash.
	stopDistance := math.Abs(d.EntryPrice - d.StopLoss)
	if stopDistance > 0 && cfg.RiskPerTrade > 0 {
		perLotRisk := stopDistance * float64(multiplier)
		byRisk := int(math.Floor(cfg.RiskPerTrade * cash / perLotRisk))
		if byRisk < qty {
			qty = byRisk
		}
	}
	if qty <= 0 {
		return 0
	}

	leverage := cfg.Leverage
	if d.Leverage > 0 && d.Leverage < leverage {
		leverage = d.Leverage
	}
	perLotMargin := d.EntryPrice * float64(multiplier) / float64(leverage)
	if perLotMargin > 0 {
		byMargin := int(math.Floor(cash / perLotMargin))
		if byMargin < qty {
			qty = byMargin
		}
	}

	if qty < 0 {
		return 0
	}
	return qty
}
