// Package agent implements the strategy agent: a state machine driven
// by the manager's scheduler that, each tick, selects symbols, asks the
// decision engine what to do, routes candidate orders through the risk
// gate, submits what survives, and settles the resulting fills into its
// own book. Agents never touch each other's state; everything
// cross-agent goes through the risk manager.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nehcuh/cherryquant/internal/alerts"
	"github.com/nehcuh/cherryquant/internal/broker"
	"github.com/nehcuh/cherryquant/internal/config"
	"github.com/nehcuh/cherryquant/internal/engine"
	"github.com/nehcuh/cherryquant/internal/journal"
	"github.com/nehcuh/cherryquant/internal/llm"
	"github.com/nehcuh/cherryquant/internal/market"
	"github.com/nehcuh/cherryquant/internal/risk"
	"github.com/nehcuh/cherryquant/internal/strategy"
)

// returnsWindow is how many recent returns the agent feeds the risk
// manager's correlation tracker per symbol.
const returnsWindow = 60

// mailboxSize bounds queued broker events per agent
const mailboxSize = 256

// OrderSubmitter is the slice of the broker layer the agent uses
type OrderSubmitter interface {
	Submit(ctx context.Context, intent broker.OrderIntent) (string, error)
}

// Deps wires one agent into the rest of the system
type Deps struct {
	Market  market.Source
	Engine  *engine.Engine
	Budget  *llm.Budget
	Risk    *risk.Manager
	Orders  OrderSubmitter
	Journal *journal.Journal
	Alerts  *alerts.Manager
	Pools   config.Pools
}

// pendingOrder carries what the intent knew that the fill will not
type pendingOrder struct {
	leverage        int
	stopLoss        float64
	takeProfit      float64
	closing         bool
	entryDecisionID string // set on stop-triggered closes
}

// Agent runs one strategy. The tick pipeline is single-threaded within
// the agent; broker events land in a mailbox and are applied only at
// defined suspension points.
type Agent struct {
	cfg         *strategy.Config
	deps        Deps
	multiplier  int
	staleFactor int
	log         zerolog.Logger

	mu           sync.Mutex
	state        State
	book         *Book
	lastDecision time.Time
	lastOutcome  journal.Outcome
	haltReason   string
	pending      map[string]pendingOrder

	mailbox chan broker.Event
}

// Status is a copy of the agent's observable state
type Status struct {
	StrategyID    string          `json:"strategy_id"`
	StrategyName  string          `json:"strategy_name"`
	State         State           `json:"state"`
	AvailableCash string          `json:"available_cash"`
	UsedMargin    string          `json:"used_margin"`
	RealizedPnL   string          `json:"realized_pnl"`
	DailyPnL      string          `json:"daily_pnl"`
	MaxDrawdown   float64         `json:"max_drawdown"`
	Positions     []Position      `json:"positions"`
	LastDecision  time.Time       `json:"last_decision"`
	LastOutcome   journal.Outcome `json:"last_outcome,omitempty"`
	HaltReason    string          `json:"halt_reason,omitempty"`
}

// New creates an agent in INITIALIZING with a freshly funded book
func New(cfg *strategy.Config, deps Deps, multiplier, staleFactor int, log zerolog.Logger) *Agent {
	if multiplier < 1 {
		multiplier = 1
	}
	if staleFactor < 1 {
		staleFactor = 2
	}
	return &Agent{
		cfg:         cfg,
		deps:        deps,
		multiplier:  multiplier,
		staleFactor: staleFactor,
		log: log.With().
			Str("component", "agent").
			Str("strategy_id", cfg.StrategyID).
			Str("strategy_name", cfg.StrategyName).
			Logger(),
		state:   StateInitializing,
		book:    NewBook(cfg.InitialCapital),
		pending: make(map[string]pendingOrder),
		mailbox: make(chan broker.Event, mailboxSize),
	}
}

// Bootstrap verifies the symbol universe resolves and moves the agent
// to IDLE.
func (a *Agent) Bootstrap(ctx context.Context) error {
	if _, err := a.selectSymbols(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	if err := a.transition(StateIdle); err != nil {
		return err
	}
	// The portfolio aggregator must know this agent's capital before
	// the first admission check.
	a.reportRisk(ctx)
	return nil
}

// State returns the current lifecycle state
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Config returns the agent's strategy configuration
func (a *Agent) Config() *strategy.Config { return a.cfg }

// LastDecisionTime returns when the last tick completed
func (a *Agent) LastDecisionTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDecision
}

// Due reports whether a tick is owed at the given instant
func (a *Agent) Due(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateIdle && now.Sub(a.lastDecision) >= a.cfg.DecisionInterval()
}

// GetStatus returns a copy of the observable state
func (a *Agent) GetStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		StrategyID:    a.cfg.StrategyID,
		StrategyName:  a.cfg.StrategyName,
		State:         a.state,
		AvailableCash: a.book.AvailableCash().String(),
		UsedMargin:    a.book.UsedMargin().String(),
		RealizedPnL:   a.book.RealizedPnL().String(),
		DailyPnL:      a.book.DailyPnL().String(),
		MaxDrawdown:   a.book.MaxDrawdown(),
		Positions:     a.book.Positions(),
		LastDecision:  a.lastDecision,
		LastOutcome:   a.lastOutcome,
		HaltReason:    a.haltReason,
	}
}

// ResetDaily zeroes the book's daily PnL at the trading-day rollover
func (a *Agent) ResetDaily() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.book.ResetDaily()
}

// Enqueue delivers a broker event to the agent's mailbox. Events are
// applied at suspension points, never concurrently with a tick step.
func (a *Agent) Enqueue(ev broker.Event) {
	select {
	case a.mailbox <- ev:
	default:
		a.log.Error().Str("kind", fmt.Sprintf("%T", ev)).Msg("Agent mailbox full, dropping broker event")
	}
}

// Pause suspends the agent; idempotent
func (a *Agent) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StatePaused {
		return nil
	}
	if !a.state.CanTransition(StatePaused) {
		return invalidTransition(a.state, StatePaused)
	}
	a.state = StatePaused
	a.log.Info().Msg("Agent paused")
	return nil
}

// Resume returns a PAUSED or HALTED agent to IDLE; idempotent
func (a *Agent) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateIdle {
		return nil
	}
	if !a.state.CanTransition(StateIdle) {
		return invalidTransition(a.state, StateIdle)
	}
	a.state = StateIdle
	a.haltReason = ""
	a.log.Info().Msg("Agent resumed")
	return nil
}

// Halt forces the agent into HALTED; only Resume can bring it back
func (a *Agent) Halt(ctx context.Context, reason string) {
	a.mu.Lock()
	if a.state == StateHalted || a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.state = StateHalted
	a.haltReason = reason
	a.mu.Unlock()

	a.log.Error().Str("reason", reason).Msg("Agent halted")
	if a.deps.Alerts != nil {
		a.deps.Alerts.AgentHalted(ctx, a.cfg.StrategyID, reason)
	}
}

// Terminate finalises the agent. It must be at rest (IDLE, PAUSED, or
// HALTED) first.
func (a *Agent) Terminate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Terminal() {
		return nil
	}
	if !a.state.CanTransition(StateTerminated) {
		return invalidTransition(a.state, StateTerminated)
	}
	a.state = StateTerminated
	a.log.Info().Msg("Agent terminated")
	return nil
}

// Flatten submits closing orders for every open position. Used on
// remove; the resulting fills settle through the mailbox as usual.
func (a *Agent) Flatten(ctx context.Context) error {
	a.mu.Lock()
	positions := a.book.Positions()
	a.mu.Unlock()

	var lastErr error
	for _, pos := range positions {
		d := a.syntheticClose(pos, pos.EntryPrice, "flatten on remove")
		if err := a.submitClose(ctx, d, pos, ""); err != nil {
			lastErr = err
		}
	}
	a.drainMailbox(ctx)
	return lastErr
}

// PendingOrders reports how many submitted intents still await their
// broker outcome.
func (a *Agent) PendingOrders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Reconcile applies any queued broker events outside the tick cycle.
// The manager calls this while waiting for flatten fills to land.
func (a *Agent) Reconcile(ctx context.Context) {
	a.drainMailbox(ctx)
}

// Tick runs one full decision cycle. The manager guarantees no two
// ticks for the same agent overlap; a panic escapes to the manager,
// which halts the agent.
func (a *Agent) Tick(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return
	}
	a.state = StateThinking
	a.mu.Unlock()

	a.drainMailbox(ctx)

	defer func() {
		a.mu.Lock()
		if a.state == StateThinking || a.state == StateOrdering {
			a.state = StateIdle
		}
		a.lastDecision = time.Now()
		a.mu.Unlock()

		a.drainMailbox(ctx)
		a.reportRisk(ctx)
		a.verifyAccounting(ctx)
	}()

	symbols, err := a.selectSymbols(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Symbol selection failed, skipping tick")
		return
	}

	maxAge := time.Duration(a.staleFactor) * a.cfg.DecisionInterval()
	for _, symbol := range symbols {
		// A halt or pause mid-tick (from a bad fill or the operator)
		// stops further decisions immediately.
		if ctx.Err() != nil || !a.State().Trading() {
			return
		}
		a.tickSymbol(ctx, symbol, maxAge)
	}
}

// selectSymbols resolves the strategy's universe for this tick
func (a *Agent) selectSymbols(ctx context.Context) ([]string, error) {
	if len(a.cfg.Selector.Symbols) > 0 {
		return clip(a.cfg.Selector.Symbols, a.cfg.MaxSymbols), nil
	}

	commodities, err := a.cfg.Commodities(a.deps.Pools)
	if err != nil {
		return nil, err
	}

	var symbols []string
	for _, commodity := range commodities {
		dominant, err := a.deps.Market.ResolveDominantContracts(ctx, commodity)
		if err != nil {
			a.log.Debug().Err(err).Str("commodity", commodity).Msg("No dominant contract, skipping commodity")
			continue
		}
		symbols = append(symbols, dominant...)
		if len(symbols) >= a.cfg.MaxSymbols {
			break
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no tradable symbols resolved for strategy %s", a.cfg.StrategyID)
	}
	return clip(symbols, a.cfg.MaxSymbols), nil
}

func clip(symbols []string, max int) []string {
	if max > 0 && len(symbols) > max {
		symbols = symbols[:max]
	}
	out := make([]string, len(symbols))
	copy(out, symbols)
	return out
}

func (a *Agent) tickSymbol(ctx context.Context, symbol string, maxAge time.Duration) {
	snapPtr, err := a.deps.Market.GetSnapshot(ctx, symbol, a.cfg.Timeframe)
	if err != nil {
		a.log.Debug().Err(err).Str("symbol", symbol).Msg("Snapshot fetch failed, skipping symbol")
		return
	}
	snap := *snapPtr
	if snap.StaleAt(time.Now(), maxAge) {
		a.journalSkip(ctx, snap, journal.OutcomeStale,
			fmt.Sprintf("snapshot as of %s is older than %s", snap.AsOf.Format(time.RFC3339), maxAge))
		return
	}

	a.mu.Lock()
	a.book.Mark(symbol, snap.Close)
	pos, hasPos := a.book.Position(symbol)
	a.mu.Unlock()

	// Invalidation first: a crossed stop closes the position without
	// consulting the model.
	if hasPos && stopTriggered(pos, snap.Close) {
		a.closeOnStop(ctx, pos, snap)
		return
	}

	a.feedReturns(ctx, symbol)

	// The shared budget gates every model call. Waiting is bounded by
	// one decision interval; beyond that the tick is throttled, not
	// queued forever.
	if a.deps.Budget != nil {
		bctx, cancel := context.WithTimeout(ctx, a.cfg.DecisionInterval())
		err := a.deps.Budget.Acquire(bctx, a.cfg.StrategyID)
		cancel()
		if err != nil {
			a.journalSkip(ctx, snap, journal.OutcomeThrottled, "llm budget exhausted for a full interval")
			return
		}
	}

	res := a.deps.Engine.Decide(ctx, snap, a.engineContext(snap, pos, hasPos))
	a.processDecision(ctx, snap, res, pos, hasPos)
}

func (a *Agent) engineContext(snap market.Snapshot, pos Position, hasPos bool) engine.AgentContext {
	a.mu.Lock()
	defer a.mu.Unlock()

	cash, _ := a.book.AvailableCash().Float64()
	margin, _ := a.book.UsedMargin().Float64()

	actx := engine.AgentContext{
		StrategyID:          a.cfg.StrategyID,
		StrategyName:        a.cfg.StrategyName,
		AvailableCash:       cash,
		UsedMargin:          margin,
		MaxPositionSize:     a.cfg.MaxPositionSize,
		Leverage:            a.cfg.Leverage,
		ConfidenceThreshold: a.cfg.ConfidenceThreshold,
	}
	if hasPos {
		actx.Position = &engine.PositionSummary{
			Direction:     string(pos.Direction),
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			StopLoss:      pos.StopLoss,
			TakeProfit:    pos.TakeProfit,
			UnrealizedPnL: pos.UnrealizedPnL(snap.Close),
		}
	}
	return actx
}

func (a *Agent) processDecision(ctx context.Context, snap market.Snapshot, res engine.Result, pos Position, hasPos bool) {
	d := res.Decision
	rec := journal.Record{
		DecisionID:  d.DecisionID,
		StrategyID:  a.cfg.StrategyID,
		Symbol:      snap.Symbol,
		Inputs:      inputsFrom(snap),
		RawResponse: res.Raw,
		Decision:    d,
	}

	if d.Action == engine.ActionHold {
		rec.Outcome = journal.OutcomeHold
		a.append(ctx, rec)
		return
	}
	if d.Confidence < a.cfg.ConfidenceThreshold {
		rec.Outcome = journal.OutcomeFiltered
		rec.Detail = fmt.Sprintf("confidence %.2f below threshold %.2f", d.Confidence, a.cfg.ConfidenceThreshold)
		a.append(ctx, rec)
		return
	}

	var intent broker.OrderIntent
	var pend pendingOrder

	switch d.Action {
	case engine.ActionClose:
		if !hasPos {
			rec.Outcome = journal.OutcomeHold
			rec.Detail = "close requested with no open position"
			a.append(ctx, rec)
			return
		}
		qty := d.Quantity
		if qty <= 0 || qty > pos.Quantity {
			qty = pos.Quantity
		}
		price := d.EntryPrice
		if price <= 0 {
			price = snap.Close
		}
		intent = broker.OrderIntent{
			StrategyID:  a.cfg.StrategyID,
			DecisionID:  d.DecisionID,
			Symbol:      snap.Symbol,
			Direction:   pos.Direction.Opposite(),
			Quantity:    qty,
			Price:       price,
			TimeInForce: broker.TimeInForceDay,
			Closing:     true,
		}
		pend = pendingOrder{closing: true}

	case engine.ActionBuyToEnter, engine.ActionSellToEnter:
		direction := broker.DirectionLong
		if d.Action == engine.ActionSellToEnter {
			direction = broker.DirectionShort
		}
		if hasPos && pos.Direction != direction {
			rec.Outcome = journal.OutcomeVetoed
			rec.Detail = "entry opposes the open position; close first"
			a.append(ctx, rec)
			return
		}
		a.mu.Lock()
		openCount := a.book.OpenCount()
		a.mu.Unlock()
		if !hasPos && openCount >= a.cfg.MaxPositions {
			rec.Outcome = journal.OutcomeVetoed
			rec.Detail = fmt.Sprintf("max_positions %d reached", a.cfg.MaxPositions)
			a.append(ctx, rec)
			return
		}

		a.mu.Lock()
		qty := sizeEntry(d, a.cfg, a.book, a.multiplier)
		a.mu.Unlock()
		if qty < 1 {
			rec.Outcome = journal.OutcomeFiltered
			rec.Detail = "sized to zero lots by position and risk limits"
			a.append(ctx, rec)
			return
		}

		leverage := a.cfg.Leverage
		if d.Leverage > 0 && d.Leverage < leverage {
			leverage = d.Leverage
		}
		intent = broker.OrderIntent{
			StrategyID:  a.cfg.StrategyID,
			DecisionID:  d.DecisionID,
			Symbol:      snap.Symbol,
			Direction:   direction,
			Quantity:    qty,
			Price:       d.EntryPrice,
			StopLoss:    d.StopLoss,
			TakeProfit:  d.ProfitTarget,
			TimeInForce: broker.TimeInForceDay,
		}
		pend = pendingOrder{leverage: leverage, stopLoss: d.StopLoss, takeProfit: d.ProfitTarget}

	default:
		rec.Outcome = journal.OutcomeError
		rec.Detail = fmt.Sprintf("unhandled action %q", d.Action)
		a.append(ctx, rec)
		return
	}

	verdict, err := a.deps.Risk.Evaluate(ctx, risk.EvalRequest{
		Intent:     intent,
		Leverage:   pend.leverage,
		Multiplier: a.multiplier,
	})
	if err != nil {
		// Deny on unknown: a risk manager we cannot reach approves
		// nothing.
		rec.Outcome = journal.OutcomeError
		rec.Detail = fmt.Sprintf("risk evaluation failed: %v", err)
		a.append(ctx, rec)
		return
	}
	rec.RiskVerdict = &verdict
	if !verdict.Approved {
		rec.Outcome = journal.OutcomeVetoed
		a.append(ctx, rec)
		return
	}
	intent.Quantity = verdict.Quantity

	a.enterOrdering()
	orderID, err := a.deps.Orders.Submit(ctx, intent)
	if err != nil {
		rec.Outcome = journal.OutcomeSubmitFailed
		rec.Submission = &journal.Submission{Error: err.Error()}
		a.append(ctx, rec)
		return
	}

	a.mu.Lock()
	a.pending[d.DecisionID] = pend
	a.mu.Unlock()

	rec.Outcome = journal.OutcomeSubmitted
	rec.Submission = &journal.Submission{OrderID: orderID}
	a.append(ctx, rec)
}

// enterOrdering moves THINKING -> ORDERING once per tick; later
// submits in the same tick stay in ORDERING.
func (a *Agent) enterOrdering() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateThinking {
		a.state = StateOrdering
	}
}

// stopTriggered reports whether the mark price crossed the stop
func stopTriggered(pos Position, mark float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Direction == broker.DirectionLong {
		return mark <= pos.StopLoss
	}
	return mark >= pos.StopLoss
}

// closeOnStop exits a position whose invalidation condition triggered.
// The entry decision is flagged invalidated; the close gets its own
// record so the intent-to-record mapping stays one to one.
func (a *Agent) closeOnStop(ctx context.Context, pos Position, snap market.Snapshot) {
	a.log.Info().
		Str("symbol", pos.Symbol).
		Float64("stop", pos.StopLoss).
		Float64("mark", snap.Close).
		Msg("Stop loss crossed, closing position")

	invalidated := true
	a.settle(ctx, pos.DecisionID, journal.Settlement{Invalidated: &invalidated})

	d := a.syntheticClose(pos, snap.Close, fmt.Sprintf("stop loss %.2f crossed at %.2f", pos.StopLoss, snap.Close))
	if err := a.submitClose(ctx, d, pos, pos.DecisionID); err != nil {
		a.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Stop-loss close submission failed")
	}
}

// syntheticClose builds the rule-generated closing decision used for
// stop exits and flattening.
func (a *Agent) syntheticClose(pos Position, price float64, rationale string) engine.Decision {
	return engine.Decision{
		DecisionID:   uuid.New().String(),
		DecisionTime: time.Now().UTC(),
		Symbol:       pos.Symbol,
		Action:       engine.ActionClose,
		Quantity:     pos.Quantity,
		EntryPrice:   price,
		Confidence:   1,
		Rationale:    rationale,
		Source:       engine.SourceFallback,
	}
}

func (a *Agent) submitClose(ctx context.Context, d engine.Decision, pos Position, entryDecisionID string) error {
	intent := broker.OrderIntent{
		StrategyID:  a.cfg.StrategyID,
		DecisionID:  d.DecisionID,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction.Opposite(),
		Quantity:    d.Quantity,
		Price:       d.EntryPrice,
		TimeInForce: broker.TimeInForceDay,
		Closing:     true,
	}

	rec := journal.Record{
		DecisionID: d.DecisionID,
		StrategyID: a.cfg.StrategyID,
		Symbol:     pos.Symbol,
		Decision:   d,
		Inputs:     journal.InputsSummary{Symbol: pos.Symbol, Close: d.EntryPrice},
	}

	a.enterOrdering()
	orderID, err := a.deps.Orders.Submit(ctx, intent)
	if err != nil {
		rec.Outcome = journal.OutcomeSubmitFailed
		rec.Submission = &journal.Submission{Error: err.Error()}
		a.append(ctx, rec)
		return err
	}

	a.mu.Lock()
	a.pending[d.DecisionID] = pendingOrder{closing: true, entryDecisionID: entryDecisionID}
	a.mu.Unlock()

	rec.Outcome = journal.OutcomeSubmitted
	rec.Submission = &journal.Submission{OrderID: orderID}
	a.append(ctx, rec)
	return nil
}

// drainMailbox applies queued broker events. Called only at suspension
// points, so the book is never mutated mid-step.
func (a *Agent) drainMailbox(ctx context.Context) {
	for {
		select {
		case ev := <-a.mailbox:
			a.applyEvent(ctx, ev)
		default:
			return
		}
	}
}

func (a *Agent) applyEvent(ctx context.Context, ev broker.Event) {
	switch e := ev.(type) {
	case broker.Fill:
		a.applyFill(ctx, e)
	case broker.Reject:
		a.mu.Lock()
		delete(a.pending, e.DecisionID)
		a.mu.Unlock()
		a.log.Warn().
			Str("order_id", e.OrderID).
			Str("symbol", e.Symbol).
			Str("reason", e.Reason).
			Msg("Order rejected by broker")
	case broker.OrderAck:
		a.log.Debug().Str("order_id", e.OrderID).Msg("Order acknowledged")
	case broker.PositionSnapshot:
		a.reconcile(e)
	}
}

func (a *Agent) applyFill(ctx context.Context, fill broker.Fill) {
	a.mu.Lock()
	pend, known := a.pending[fill.DecisionID]
	closing := fill.Closing || (known && pend.closing)

	if closing {
		realized, flat, err := a.book.CloseFill(fill)
		if flat {
			delete(a.pending, fill.DecisionID)
		}
		a.mu.Unlock()
		if err != nil {
			a.Halt(ctx, fmt.Sprintf("accounting failure on close fill: %v", err))
			return
		}
		price := fill.Price
		pnl, _ := realized.Float64()
		a.settle(ctx, fill.DecisionID, journal.Settlement{FillPrice: &price, RealizedPnL: &pnl})
		return
	}

	leverage := a.cfg.Leverage
	stop, target := 0.0, 0.0
	if known {
		leverage = pend.leverage
		stop = pend.stopLoss
		target = pend.takeProfit
	}
	err := a.book.OpenFill(fill, a.multiplier, leverage, stop, target)
	if fillCompletes(a.book, fill) {
		delete(a.pending, fill.DecisionID)
	}
	a.mu.Unlock()

	if err != nil {
		a.Halt(ctx, fmt.Sprintf("accounting failure on open fill: %v", err))
		return
	}
	price := fill.Price
	a.settle(ctx, fill.DecisionID, journal.Settlement{FillPrice: &price})
}

func (a *Agent) settle(ctx context.Context, decisionID string, s journal.Settlement) {
	if a.deps.Journal != nil {
		a.deps.Journal.Settle(ctx, decisionID, s)
	}
}

// fillCompletes is a placeholder for partial-fill tracking: the paper
// broker always fills whole orders, so a fill completes its intent.
func fillCompletes(*Book, broker.Fill) bool { return true }

// reconcile checks the broker's view of a position against the book
func (a *Agent) reconcile(snap broker.PositionSnapshot) {
	a.mu.Lock()
	pos, ok := a.book.Position(snap.Symbol)
	a.mu.Unlock()

	bookQty := 0
	if ok {
		bookQty = pos.Quantity
	}
	if bookQty != snap.Quantity {
		a.log.Warn().
			Str("symbol", snap.Symbol).
			Int("book_quantity", bookQty).
			Int("broker_quantity", snap.Quantity).
			Msg("Position mismatch against broker snapshot")
	}
}

func (a *Agent) feedReturns(ctx context.Context, symbol string) {
	if a.deps.Risk == nil {
		return
	}
	returns, err := a.deps.Market.RecentReturns(ctx, symbol, returnsWindow)
	if err != nil || len(returns) == 0 {
		return
	}
	if err := a.deps.Risk.ObserveReturns(ctx, symbol, returns); err != nil {
		a.log.Debug().Err(err).Msg("Failed to feed returns to risk manager")
	}
}

// reportRisk pushes the agent's book to the portfolio aggregator
func (a *Agent) reportRisk(ctx context.Context) {
	if a.deps.Risk == nil {
		return
	}

	a.mu.Lock()
	capital, _ := a.book.InitialCapital().Float64()
	cash, _ := a.book.AvailableCash().Float64()
	margin, _ := a.book.UsedMargin().Float64()
	daily, _ := a.book.DailyPnL().Float64()
	positions := a.book.Positions()
	a.mu.Unlock()

	reports := make([]risk.PositionReport, 0, len(positions))
	for _, pos := range positions {
		reports = append(reports, risk.PositionReport{
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			Quantity:   pos.Quantity,
			AvgPrice:   pos.EntryPrice,
			Multiplier: pos.Multiplier,
		})
	}

	report := risk.AgentReport{
		StrategyID:     a.cfg.StrategyID,
		InitialCapital: capital,
		AvailableCash:  cash,
		UsedMargin:     margin,
		DailyPnL:       daily,
		Positions:      reports,
	}
	if err := a.deps.Risk.Report(ctx, report); err != nil {
		a.log.Warn().Err(err).Msg("Failed to report state to risk manager")
	}
}

// verifyAccounting halts the agent on a broken closure invariant
func (a *Agent) verifyAccounting(ctx context.Context) {
	a.mu.Lock()
	err := a.book.CheckInvariant()
	a.mu.Unlock()
	if err != nil {
		a.Halt(ctx, err.Error())
	}
}

func (a *Agent) journalSkip(ctx context.Context, snap market.Snapshot, outcome journal.Outcome, detail string) {
	a.append(ctx, journal.Record{
		DecisionID: uuid.New().String(),
		StrategyID: a.cfg.StrategyID,
		Symbol:     snap.Symbol,
		Inputs:     inputsFrom(snap),
		Outcome:    outcome,
		Detail:     detail,
	})
}

func (a *Agent) append(ctx context.Context, rec journal.Record) {
	a.mu.Lock()
	a.lastOutcome = rec.Outcome
	a.mu.Unlock()
	if a.deps.Journal != nil {
		a.deps.Journal.Append(ctx, rec)
	}
}

func (a *Agent) transition(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.CanTransition(to) {
		return invalidTransition(a.state, to)
	}
	a.state = to
	return nil
}

// inputsFrom compacts a snapshot into the journal's inputs summary
func inputsFrom(snap market.Snapshot) journal.InputsSummary {
	indicators := make(map[string]float64)
	add := func(name string, v *float64) {
		if v != nil {
			indicators[name] = *v
		}
	}
	add("ma5", snap.Indicators.MA5)
	add("ma20", snap.Indicators.MA20)
	add("macd_hist", snap.Indicators.MACDHist)
	add("rsi", snap.Indicators.RSI)
	add("atr", snap.Indicators.ATR)

	return journal.InputsSummary{
		Symbol:     snap.Symbol,
		Timeframe:  string(snap.Timeframe),
		AsOf:       snap.AsOf,
		Close:      snap.Close,
		Indicators: indicators,
	}
}
