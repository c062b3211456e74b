package engine

import (
	"fmt"
	"strings"

	"github.com/nehcuh/cherryquant/internal/market"
)

const systemPrompt = `You are an expert futures trading agent for Chinese commodity markets.

Your role is to analyze one contract's market snapshot and decide whether to open, close, or hold a position.

Key responsibilities:
- Weigh trend (moving averages, MACD), momentum (RSI, KDJ), and volatility (Bollinger, ATR) together
- Be conservative when indicators conflict
- Every entry must carry a stop loss on the losing side of the entry price
- State a concrete invalidation condition for every non-hold decision

Respond ONLY with a single valid JSON object in this exact format. Do not include explanatory text outside the JSON:
{
  "symbol": "contract symbol",
  "action": "buy_to_enter" | "sell_to_enter" | "close" | "hold",
  "quantity": integer lots,
  "leverage": integer 1-20,
  "entry_price": float,
  "profit_target": float,
  "stop_loss": float,
  "confidence": 0.0-1.0,
  "opportunity_score": 0-100,
  "rationale": "detailed reasoning",
  "market_regime": "trending_up" | "trending_down" | "ranging" | "volatile",
  "invalidation_condition": "what would prove this decision wrong"
}`

// Sector guidance appended to the system prompt, keyed by commodity
// pool name. Unknown sectors get no extra guidance.
var sectorTemplates = map[string]string{
	"black": `Sector notes (ferrous chain): rebar, hot-rolled coil, iron ore and coking products move with construction demand and mill margins. Watch inventory cycles and policy-driven production cuts; trends persist but reverse hard on policy news.`,
	"metal": `Sector notes (base metals): copper, aluminium, zinc and nickel track global macro and LME overnight moves. Mind the overnight gap risk; intraday mean reversion is common after a gap fills.`,
	"precious_metal": `Sector notes (precious metals): gold and silver follow real yields, the dollar and risk sentiment. Technical levels are respected more than in industrial commodities; favour wider stops relative to ATR.`,
	"agriculture": `Sector notes (agriculture): supply is seasonal and weather-driven. Respect the crop calendar; ranging behaviour dominates outside weather scares.`,
	"chemical": `Sector notes (chemicals): energy-linked costs drive the chain. Correlation to crude is high; check whether the move is sector-wide before treating it as contract-specific.`,
	"financial": `Sector notes (financial futures): index and bond futures are macro instruments. Liquidity is deep; slippage assumptions can be tight but leverage discipline matters more.`,
}

// SystemPrompt returns the static role prompt plus the sector template
// for the given sector, when one exists.
func SystemPrompt(sector string) string {
	tmpl, ok := sectorTemplates[sector]
	if !ok {
		return systemPrompt
	}
	return systemPrompt + "\n\n" + tmpl
}

// buildUserPrompt renders the snapshot and agent context as the compact
// structured block the model analyses.
func buildUserPrompt(snap market.Snapshot, actx AgentContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze %s (%s bars) as of %s and decide.\n\n",
		snap.Symbol, snap.Timeframe, snap.AsOf.UTC().Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&b, "Latest bar:\n  open=%.2f high=%.2f low=%.2f close=%.2f volume=%.0f open_interest=%.0f\n\n",
		snap.Open, snap.High, snap.Low, snap.Close, snap.Volume, snap.OpenInterest)

	b.WriteString("Indicators:\n")
	b.WriteString(formatIndicators(snap.Indicators))
	b.WriteString("\n\n")

	if actx.Position != nil {
		p := actx.Position
		fmt.Fprintf(&b, "Current position in %s:\n  %s %d lots @ %.2f, stop=%.2f target=%.2f, unrealized_pnl=%.2f\n\n",
			snap.Symbol, p.Direction, p.Quantity, p.EntryPrice, p.StopLoss, p.TakeProfit, p.UnrealizedPnL)
	} else {
		b.WriteString("Current position: none\n\n")
	}

	fmt.Fprintf(&b, "Constraints:\n  available_cash=%.2f used_margin=%.2f max_position_size=%d lots max_leverage=%d confidence_threshold=%.2f\n",
		actx.AvailableCash, actx.UsedMargin, actx.MaxPositionSize, actx.Leverage, actx.ConfidenceThreshold)

	return b.String()
}

// buildRepairPrompt feeds the validation error back for one retry
func buildRepairPrompt(raw string, parseErr error) string {
	return fmt.Sprintf(`Your previous reply could not be used.

Reply:
%s

Problem: %s

Respond again with ONLY a single valid JSON object in the required format. No text outside the JSON.`, raw, parseErr)
}

func formatIndicators(ind market.Indicators) string {
	rows := []struct {
		name string
		v    *float64
	}{
		{"ma5", ind.MA5}, {"ma10", ind.MA10}, {"ma20", ind.MA20}, {"ma60", ind.MA60},
		{"ema12", ind.EMA12}, {"ema26", ind.EMA26},
		{"macd", ind.MACD}, {"macd_signal", ind.MACDSignal}, {"macd_hist", ind.MACDHist},
		{"rsi", ind.RSI},
		{"boll_upper", ind.BollUpper}, {"boll_middle", ind.BollMiddle}, {"boll_lower", ind.BollLower},
		{"atr", ind.ATR},
		{"kdj_k", ind.KDJK}, {"kdj_d", ind.KDJD}, {"kdj_j", ind.KDJJ},
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.v == nil {
			lines = append(lines, fmt.Sprintf("  %s: n/a", r.name))
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %.4f", r.name, *r.v))
	}
	return strings.Join(lines, "\n")
}
