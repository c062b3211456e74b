// Package risk enforces the cross-agent portfolio constraints no single
// agent can see: total capital usage, correlation clustering, sector
// concentration, leverage, and the portfolio-wide loss limits behind
// the kill switch. The manager is a single-writer task; every
// evaluation runs against a consistent snapshot of portfolio state.
package risk

import (
	"time"

	"github.com/nehcuh/cherryquant/internal/broker"
)

// ReasonCode is the machine-readable verdict classification
type ReasonCode string

const (
	ReasonCapitalUsage        ReasonCode = "max_total_capital_usage"
	ReasonCorrelation         ReasonCode = "max_correlation"
	ReasonSectorConcentration ReasonCode = "max_sector_concentration"
	ReasonLeverage            ReasonCode = "max_leverage_total"
	ReasonPortfolioStopLoss   ReasonCode = "portfolio_stop_loss"
	ReasonDailyLossLimit      ReasonCode = "daily_loss_limit"
	ReasonHalted              ReasonCode = "trading_halted"
)

// Verdict is the outcome of evaluating one order intent. A veto is not
// an error; it is a first-class result with a reason attached.
type Verdict struct {
	Approved   bool       `json:"approved"`
	Quantity   int        `json:"quantity"` // possibly shrunk below the requested size
	Shrunk     bool       `json:"shrunk"`
	ReasonCode ReasonCode `json:"reason_code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// PositionReport describes one open position as the owning agent sees it
type PositionReport struct {
	Symbol     string           `json:"symbol"`
	Direction  broker.Direction `json:"direction"`
	Quantity   int              `json:"quantity"`
	AvgPrice   float64          `json:"avg_price"`
	Multiplier int              `json:"multiplier"`
}

// AgentReport is the per-agent state pushed to the risk manager after
// every fill and at the end of every tick.
type AgentReport struct {
	StrategyID     string           `json:"strategy_id"`
	InitialCapital float64          `json:"initial_capital"`
	AvailableCash  float64          `json:"available_cash"`
	UsedMargin     float64          `json:"used_margin"`
	DailyPnL       float64          `json:"daily_pnl"` // realized + unrealized since the daily reset
	Positions      []PositionReport `json:"positions"`
}

// EvalRequest is one order intent plus the sizing context the intent
// itself does not carry.
type EvalRequest struct {
	Intent     broker.OrderIntent
	Leverage   int
	Multiplier int
}

// Status is a copy of the manager's aggregate view
type Status struct {
	TotalCapital   float64            `json:"total_capital"`
	TotalEquity    float64            `json:"total_equity"`
	TotalExposure  float64            `json:"total_exposure"`
	UsedMargin     float64            `json:"used_margin"`
	CapitalUsage   float64            `json:"capital_usage"`
	SectorExposure map[string]float64 `json:"sector_exposure"`
	DailyPnL       float64            `json:"daily_pnl"`
	Drawdown       float64            `json:"drawdown"`
	PeakEquity     float64            `json:"peak_equity"`
	Halted         bool               `json:"halted"`
	HaltReason     string             `json:"halt_reason,omitempty"`
	AgentCount     int                `json:"agent_count"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// HaltEvent is broadcast when the kill switch engages
type HaltEvent struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}
