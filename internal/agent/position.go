package agent

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nehcuh/cherryquant/internal/broker"
)

// Position is one open futures position
type Position struct {
	Symbol     string           `json:"symbol"`
	Direction  broker.Direction `json:"direction"`
	Quantity   int              `json:"quantity"`
	EntryPrice float64          `json:"entry_price"`
	StopLoss   float64          `json:"stop_loss"`
	TakeProfit float64          `json:"take_profit"`
	EntryTime  time.Time        `json:"entry_time"`
	DecisionID string           `json:"decision_id"`
	Multiplier int              `json:"multiplier"`

	// Margin is the cash held against this position, tracked exactly
	// so releases on close cannot leak rounding error.
	Margin decimal.Decimal `json:"margin"`

	MaxFavorableMove float64 `json:"max_favorable_move"`
	MaxAdverseMove   float64 `json:"max_adverse_move"`
}

// UnrealizedPnL values the position at the given mark price
func (p *Position) UnrealizedPnL(mark float64) float64 {
	diff := mark - p.EntryPrice
	if p.Direction == broker.DirectionShort {
		diff = -diff
	}
	return diff * float64(p.Quantity) * float64(p.Multiplier)
}

// Book is one agent's cash and position accounting. All monetary state
// is decimal so the closure invariant holds exactly:
//
//	used_margin + available_cash == initial_capital + realized_pnl
//
// The book is not goroutine safe; the owning agent serialises access.
type Book struct {
	initialCapital decimal.Decimal
	availableCash  decimal.Decimal
	usedMargin     decimal.Decimal
	realizedPnL    decimal.Decimal
	dailyPnL       decimal.Decimal

	peakEquity  decimal.Decimal
	maxDrawdown float64

	positions map[string]*Position
}

// NewBook creates a book funded with the strategy's initial capital
func NewBook(initialCapital decimal.Decimal) *Book {
	return &Book{
		initialCapital: initialCapital,
		availableCash:  initialCapital,
		peakEquity:     initialCapital,
		positions:      make(map[string]*Position),
	}
}

// marginFor computes the cash a fill locks up
func marginFor(price float64, qty, multiplier, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	notional := decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(int64(qty))).
		Mul(decimal.NewFromInt(int64(multiplier)))
	return notional.Div(decimal.NewFromInt(int64(leverage)))
}

// OpenFill books an entry fill. Adding to an existing position
// averages the entry price; opening against an existing direction is an
// invariant violation the caller must treat as fatal.
func (b *Book) OpenFill(fill broker.Fill, multiplier, leverage int, stopLoss, takeProfit float64) error {
	if fill.Quantity <= 0 {
		return fmt.Errorf("open fill quantity %d must be positive", fill.Quantity)
	}
	margin := marginFor(fill.Price, fill.Quantity, multiplier, leverage)
	if margin.GreaterThan(b.availableCash) {
		return fmt.Errorf("fill margin %s exceeds available cash %s", margin, b.availableCash)
	}

	pos, exists := b.positions[fill.Symbol]
	if exists && pos.Direction != fill.Direction {
		return fmt.Errorf("fill direction %s opposes open %s position in %s", fill.Direction, pos.Direction, fill.Symbol)
	}

	b.availableCash = b.availableCash.Sub(margin)
	b.usedMargin = b.usedMargin.Add(margin)

	if exists {
		total := pos.Quantity + fill.Quantity
		pos.EntryPrice = (pos.EntryPrice*float64(pos.Quantity) + fill.Price*float64(fill.Quantity)) / float64(total)
		pos.Quantity = total
		pos.Margin = pos.Margin.Add(margin)
		return nil
	}

	b.positions[fill.Symbol] = &Position{
		Symbol:     fill.Symbol,
		Direction:  fill.Direction,
		Quantity:   fill.Quantity,
		EntryPrice: fill.Price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		EntryTime:  fill.Timestamp,
		DecisionID: fill.DecisionID,
		Multiplier: multiplier,
		Margin:     margin,
	}
	return nil
}

// CloseFill books a closing fill, releasing margin proportionally and
// realizing PnL. Returns the realized amount and whether the position
// is now flat.
func (b *Book) CloseFill(fill broker.Fill) (decimal.Decimal, bool, error) {
	pos, exists := b.positions[fill.Symbol]
	if !exists {
		return decimal.Zero, false, fmt.Errorf("close fill for %s with no open position", fill.Symbol)
	}
	if fill.Quantity <= 0 || fill.Quantity > pos.Quantity {
		return decimal.Zero, false, fmt.Errorf("close quantity %d outside open quantity %d", fill.Quantity, pos.Quantity)
	}

	diff := fill.Price - pos.EntryPrice
	if pos.Direction == broker.DirectionShort {
		diff = -diff
	}
	realized := decimal.NewFromFloat(diff).
		Mul(decimal.NewFromInt(int64(fill.Quantity))).
		Mul(decimal.NewFromInt(int64(pos.Multiplier)))

	var released decimal.Decimal
	flat := fill.Quantity == pos.Quantity
	if flat {
		// The final close releases the exact remaining margin so no
		// dust is left behind.
		released = pos.Margin
	} else {
		released = pos.Margin.
			Mul(decimal.NewFromInt(int64(fill.Quantity))).
			Div(decimal.NewFromInt(int64(pos.Quantity)))
	}

	b.usedMargin = b.usedMargin.Sub(released)
	b.availableCash = b.availableCash.Add(released).Add(realized)
	b.realizedPnL = b.realizedPnL.Add(realized)
	b.dailyPnL = b.dailyPnL.Add(realized)

	if flat {
		delete(b.positions, fill.Symbol)
	} else {
		pos.Quantity -= fill.Quantity
		pos.Margin = pos.Margin.Sub(released)
	}

	b.trackEquity()
	return realized, flat, nil
}

// Mark updates a position's excursion extremes at the latest price
func (b *Book) Mark(symbol string, price float64) {
	pos, ok := b.positions[symbol]
	if !ok {
		return
	}
	move := pos.UnrealizedPnL(price)
	if move > pos.MaxFavorableMove {
		pos.MaxFavorableMove = move
	}
	if move < pos.MaxAdverseMove {
		pos.MaxAdverseMove = move
	}
}

func (b *Book) trackEquity() {
	equity := b.availableCash.Add(b.usedMargin)
	if equity.GreaterThan(b.peakEquity) {
		b.peakEquity = equity
		return
	}
	if b.peakEquity.IsPositive() {
		dd, _ := b.peakEquity.Sub(equity).Div(b.peakEquity).Float64()
		if dd > b.maxDrawdown {
			b.maxDrawdown = dd
		}
	}
}

// CheckInvariant verifies accounting closure; a failure is fatal for
// the owning agent.
func (b *Book) CheckInvariant() error {
	left := b.usedMargin.Add(b.availableCash)
	right := b.initialCapital.Add(b.realizedPnL)
	if !left.Equal(right) {
		return fmt.Errorf("accounting broken: margin+cash=%s but capital+realized=%s", left, right)
	}
	return nil
}

// ResetDaily zeroes the daily PnL counter at the trading-day boundary
func (b *Book) ResetDaily() { b.dailyPnL = decimal.Zero }

// Position returns the open position in a symbol, if any
func (b *Book) Position(symbol string) (Position, bool) {
	pos, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions
func (b *Book) Positions() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenCount returns the number of open positions
func (b *Book) OpenCount() int { return len(b.positions) }

// UnrealizedPnL values all positions at the given marks; symbols with
// no mark contribute zero.
func (b *Book) UnrealizedPnL(marks map[string]float64) float64 {
	var sum float64
	for symbol, pos := range b.positions {
		if mark, ok := marks[symbol]; ok {
			sum += pos.UnrealizedPnL(mark)
		}
	}
	return sum
}

// Accessors used for risk reporting and the operator API.

func (b *Book) InitialCapital() decimal.Decimal { return b.initialCapital }
func (b *Book) AvailableCash() decimal.Decimal  { return b.availableCash }
func (b *Book) UsedMargin() decimal.Decimal     { return b.usedMargin }
func (b *Book) RealizedPnL() decimal.Decimal    { return b.realizedPnL }
func (b *Book) DailyPnL() decimal.Decimal       { return b.dailyPnL }
func (b *Book) MaxDrawdown() float64            { return b.maxDrawdown }
