// Package broker defines the execution-gateway boundary: the core
// emits OrderIntents and consumes an asynchronous event stream of
// acks, fills, rejects, and position snapshots.
package broker

import "time"

// Direction is the side of a futures position
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the closing side for a direction
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// TimeInForce controls how long an order rests
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceGTC TimeInForce = "gtc"
)

// OrderIntent is the order a strategy agent asks the broker to work.
// DecisionID ties the intent back to exactly one AI decision.
type OrderIntent struct {
	StrategyID  string      `json:"strategy_id"`
	DecisionID  string      `json:"decision_id"`
	Symbol      string      `json:"symbol"`
	Direction   Direction   `json:"direction"`
	Quantity    int         `json:"quantity"` // lots
	Price       float64     `json:"price"`    // limit
	StopLoss    float64     `json:"stop_loss,omitempty"`
	TakeProfit  float64     `json:"take_profit,omitempty"`
	TimeInForce TimeInForce `json:"time_in_force"`
	Closing     bool        `json:"closing"` // true when reducing an existing position
}

// Event is implemented by every message on the broker event stream
type Event interface {
	eventKind() string
	EventStrategyID() string
}

// OrderAck confirms the broker accepted an order
type OrderAck struct {
	OrderID    string    `json:"order_id"`
	StrategyID string    `json:"strategy_id"`
	DecisionID string    `json:"decision_id"`
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
}

// Fill reports an execution (partial or complete)
type Fill struct {
	OrderID    string    `json:"order_id"`
	StrategyID string    `json:"strategy_id"`
	DecisionID string    `json:"decision_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	Closing    bool      `json:"closing"`
	Timestamp  time.Time `json:"timestamp"`
}

// Reject reports the broker refused an order
type Reject struct {
	OrderID    string    `json:"order_id"`
	StrategyID string    `json:"strategy_id"`
	DecisionID string    `json:"decision_id"`
	Symbol     string    `json:"symbol"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// PositionSnapshot is the broker's periodic view of a strategy's
// position in one symbol, used for reconciliation
type PositionSnapshot struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Quantity   int       `json:"quantity"`
	AvgPrice   float64   `json:"avg_price"`
	Timestamp  time.Time `json:"timestamp"`
}

func (OrderAck) eventKind() string         { return "order_ack" }
func (Fill) eventKind() string             { return "fill" }
func (Reject) eventKind() string           { return "reject" }
func (PositionSnapshot) eventKind() string { return "position_snapshot" }

func (e OrderAck) EventStrategyID() string         { return e.StrategyID }
func (e Fill) EventStrategyID() string             { return e.StrategyID }
func (e Reject) EventStrategyID() string           { return e.StrategyID }
func (e PositionSnapshot) EventStrategyID() string { return e.StrategyID }
