package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaperBroker simulates the execution gateway for paper trading and
// tests. Accepted orders fill immediately at their limit price; fills
// and position snapshots are delivered on the event stream in
// submission order per strategy.
type PaperBroker struct {
	mu        sync.Mutex
	events    chan Event
	positions map[string]map[string]*paperPosition // strategy -> symbol -> position
	closed    bool

	// Fault injection knobs for tests
	rejectNext  string // when non-empty, the next order is rejected with this reason
	failSubmits int    // number of submits to fail with ErrUnavailable

	log zerolog.Logger
}

type paperPosition struct {
	direction Direction
	quantity  int
	avgPrice  float64
}

// NewPaperBroker creates a paper broker with a buffered event stream
func NewPaperBroker(log zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		events:    make(chan Event, 256),
		positions: make(map[string]map[string]*paperPosition),
		log:       log.With().Str("component", "paper_broker").Logger(),
	}
}

// RejectNext makes the next submitted order be rejected with reason
func (b *PaperBroker) RejectNext(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectNext = reason
}

// FailSubmits makes the next n Submit calls fail with ErrUnavailable
func (b *PaperBroker) FailSubmits(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSubmits = n
}

// Submit accepts an intent, emits an ack, a fill at the limit price,
// and a fresh position snapshot
func (b *PaperBroker) Submit(ctx context.Context, intent OrderIntent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrUnavailable
	}
	if b.failSubmits > 0 {
		b.failSubmits--
		return "", ErrUnavailable
	}
	if intent.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ErrRejected)
	}

	orderID := uuid.NewString()
	now := time.Now()

	if b.rejectNext != "" {
		reason := b.rejectNext
		b.rejectNext = ""
		b.emit(Reject{
			OrderID:    orderID,
			StrategyID: intent.StrategyID,
			DecisionID: intent.DecisionID,
			Symbol:     intent.Symbol,
			Reason:     reason,
			Timestamp:  now,
		})
		return orderID, nil
	}

	b.emit(OrderAck{
		OrderID:    orderID,
		StrategyID: intent.StrategyID,
		DecisionID: intent.DecisionID,
		Symbol:     intent.Symbol,
		Timestamp:  now,
	})

	b.applyFill(intent)

	b.emit(Fill{
		OrderID:    orderID,
		StrategyID: intent.StrategyID,
		DecisionID: intent.DecisionID,
		Symbol:     intent.Symbol,
		Direction:  intent.Direction,
		Quantity:   intent.Quantity,
		Price:      intent.Price,
		Closing:    intent.Closing,
		Timestamp:  now,
	})

	pos := b.positions[intent.StrategyID][intent.Symbol]
	snap := PositionSnapshot{
		StrategyID: intent.StrategyID,
		Symbol:     intent.Symbol,
		Timestamp:  now,
	}
	if pos != nil {
		snap.Quantity = pos.quantity
		snap.AvgPrice = pos.avgPrice
	}
	b.emit(snap)

	b.log.Debug().
		Str("order_id", orderID).
		Str("strategy_id", intent.StrategyID).
		Str("symbol", intent.Symbol).
		Int("quantity", intent.Quantity).
		Float64("price", intent.Price).
		Msg("Paper order filled")

	return orderID, nil
}

// applyFill updates the simulated position book. Callers hold b.mu.
func (b *PaperBroker) applyFill(intent OrderIntent) {
	book, ok := b.positions[intent.StrategyID]
	if !ok {
		book = make(map[string]*paperPosition)
		b.positions[intent.StrategyID] = book
	}

	pos := book[intent.Symbol]
	if pos == nil {
		if intent.Closing {
			return // nothing to close
		}
		book[intent.Symbol] = &paperPosition{
			direction: intent.Direction,
			quantity:  intent.Quantity,
			avgPrice:  intent.Price,
		}
		return
	}

	if intent.Closing || intent.Direction != pos.direction {
		pos.quantity -= intent.Quantity
		if pos.quantity <= 0 {
			delete(book, intent.Symbol)
		}
		return
	}

	total := pos.quantity + intent.Quantity
	pos.avgPrice = (pos.avgPrice*float64(pos.quantity) + intent.Price*float64(intent.Quantity)) / float64(total)
	pos.quantity = total
}

// emit delivers an event without blocking Submit; an overrun stream
// drops the oldest semantics are unacceptable here, so log loudly
func (b *PaperBroker) emit(event Event) {
	select {
	case b.events <- event:
	default:
		b.log.Error().Str("strategy_id", event.EventStrategyID()).Msg("Broker event stream full, dropping event")
	}
}

// Events returns the broker event stream
func (b *PaperBroker) Events() <-chan Event {
	return b.events
}

// Close shuts the event stream down
func (b *PaperBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	return nil
}
