// Package engine turns a market snapshot plus agent context into a
// validated trading decision. The pipeline is prompt -> LLM -> parse ->
// validate, with one repair retry on a malformed reply and a
// deterministic rule-based fallback when the model is unreachable or
// keeps producing garbage. Decide never fails; callers inspect Source
// to tell the modes apart.
package engine

import (
	"time"
)

// Action is what the decision tells the agent to do with the symbol
type Action string

const (
	ActionBuyToEnter  Action = "buy_to_enter"
	ActionSellToEnter Action = "sell_to_enter"
	ActionClose       Action = "close"
	ActionHold        Action = "hold"
)

// Valid reports whether the action is a known value
func (a Action) Valid() bool {
	switch a {
	case ActionBuyToEnter, ActionSellToEnter, ActionClose, ActionHold:
		return true
	}
	return false
}

// IsEntry reports whether the action opens a new position
func (a Action) IsEntry() bool {
	return a == ActionBuyToEnter || a == ActionSellToEnter
}

// Source tags which pipeline stage produced a decision
type Source string

const (
	SourceLLM       Source = "llm"
	SourceFallback  Source = "fallback"
	SourceSimulated Source = "simulated"
)

// Decision is the engine's validated output. Every field has been
// range-checked and normalised before the caller sees it.
type Decision struct {
	DecisionID   string    `json:"decision_id"`
	DecisionTime time.Time `json:"decision_time"`
	Symbol       string    `json:"symbol"`
	Action       Action    `json:"action"`
	Quantity     int       `json:"quantity"`
	Leverage     int       `json:"leverage"`
	EntryPrice   float64   `json:"entry_price"`
	ProfitTarget float64   `json:"profit_target"`
	StopLoss     float64   `json:"stop_loss"`

	Confidence       float64 `json:"confidence"`
	OpportunityScore float64 `json:"opportunity_score"`
	Rationale        string  `json:"rationale"`

	Source                Source `json:"source"`
	MarketRegime          string `json:"market_regime"`
	InvalidationCondition string `json:"invalidation_condition"`
}

// PositionSummary describes the agent's current position in the symbol
// being decided, if any.
type PositionSummary struct {
	Direction     string  `json:"direction"`
	Quantity      int     `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AgentContext carries the per-agent state the prompt needs
type AgentContext struct {
	StrategyID          string
	StrategyName        string
	Position            *PositionSummary
	AvailableCash       float64
	UsedMargin          float64
	MaxPositionSize     int
	Leverage            int
	ConfidenceThreshold float64
}

// Result bundles a decision with the raw model reply for the journal.
// Raw is empty when no LLM call was made.
type Result struct {
	Decision Decision
	Raw      string
}
