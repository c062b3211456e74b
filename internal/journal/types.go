// Package journal is the append-only decision log. Every tick outcome
// becomes exactly one record keyed by decision id; fills and
// invalidations are attached later as they become known. Records are
// queryable by decision id, strategy id and time range, persisted to
// Postgres with buffered best-effort writes, and streamed over NATS for
// the dashboard.
package journal

import (
	"time"

	"github.com/nehcuh/cherryquant/internal/engine"
	"github.com/nehcuh/cherryquant/internal/risk"
)

// Outcome classifies how a tick concluded for one symbol
type Outcome string

const (
	OutcomeSubmitted    Outcome = "submitted"
	OutcomeHold         Outcome = "hold"
	OutcomeFiltered     Outcome = "filtered_low_confidence"
	OutcomeVetoed       Outcome = "vetoed"
	OutcomeSubmitFailed Outcome = "submit_failed"
	OutcomeThrottled    Outcome = "throttled"
	OutcomeStale        Outcome = "skipped_stale"
	OutcomeError        Outcome = "error"
	OutcomeHalted       Outcome = "halted"
)

// InputsSummary captures what the engine saw, compact enough to store
// per decision.
type InputsSummary struct {
	Symbol     string             `json:"symbol"`
	Timeframe  string             `json:"timeframe"`
	AsOf       time.Time          `json:"as_of"`
	Close      float64            `json:"close"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Submission records what happened at the broker
type Submission struct {
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Record is one immutable journal entry. Settlement fields (FillPrice,
// RealizedPnL, Invalidated) are the only parts written after append.
type Record struct {
	DecisionID string    `json:"decision_id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	CreatedAt  time.Time `json:"created_at"`

	Inputs      InputsSummary   `json:"inputs"`
	RawResponse string          `json:"raw_response,omitempty"`
	Decision    engine.Decision `json:"decision"`
	RiskVerdict *risk.Verdict   `json:"risk_verdict,omitempty"`
	Submission  *Submission     `json:"submission,omitempty"`
	Outcome     Outcome         `json:"outcome"`
	Detail      string          `json:"detail,omitempty"`

	FillPrice   *float64 `json:"fill_price,omitempty"`
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
	Invalidated *bool    `json:"invalidated,omitempty"`
}

// Settlement is the late-arriving broker outcome attached to a record
type Settlement struct {
	FillPrice   *float64
	RealizedPnL *float64
	Invalidated *bool
}
