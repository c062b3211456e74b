package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nehcuh/cherryquant/internal/agent"
	"github.com/nehcuh/cherryquant/internal/broker"
	"github.com/nehcuh/cherryquant/internal/config"
	"github.com/nehcuh/cherryquant/internal/journal"
	"github.com/nehcuh/cherryquant/internal/llm"
	"github.com/nehcuh/cherryquant/internal/market"
	"github.com/nehcuh/cherryquant/internal/risk"
	"github.com/nehcuh/cherryquant/internal/strategy"
)

// queueClient pops one scripted reply per symbol and answers hold once
// a symbol's script is exhausted.
type queueClient struct {
	mu      sync.Mutex
	replies map[string][]string
}

func (c *queueClient) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for symbol, queue := range c.replies {
		if !strings.Contains(req.User, symbol) {
			continue
		}
		if len(queue) == 0 {
			break
		}
		reply := queue[0]
		c.replies[symbol] = queue[1:]
		return reply, nil
	}
	// Symbol empty on purpose: the validator fills in the expected one.
	return `{"action":"hold","symbol":"","quantity":0,"confidence":0.5,"opportunity_score":10,"rationale":"no edge"}`, nil
}

type stubSource struct {
	mu        sync.Mutex
	snapshots map[string]*market.Snapshot
	panicOn   string
}

func newStubSource() *stubSource {
	return &stubSource{snapshots: make(map[string]*market.Snapshot)}
}

func (s *stubSource) set(snap *market.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Symbol] = snap
}

func (s *stubSource) GetSnapshot(ctx context.Context, symbol string, tf market.Timeframe) (*market.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == s.panicOn {
		panic("stub source exploded")
	}
	snap, ok := s.snapshots[symbol]
	if !ok {
		return nil, market.ErrNoData
	}
	out := *snap
	out.AsOf = time.Now() // always fresh for scheduler-driven tests
	return &out, nil
}

func (s *stubSource) ResolveDominantContracts(ctx context.Context, commodity string) ([]string, error) {
	return nil, market.ErrUnknownCommodity
}

func (s *stubSource) RecentReturns(ctx context.Context, symbol string, window int) ([]float64, error) {
	return nil, nil
}

// recordingBroker wraps the paper broker to capture submitted intents
type recordingBroker struct {
	*broker.PaperBroker
	mu      sync.Mutex
	intents []broker.OrderIntent
}

func (b *recordingBroker) Submit(ctx context.Context, intent broker.OrderIntent) (string, error) {
	b.mu.Lock()
	b.intents = append(b.intents, intent)
	b.mu.Unlock()
	return b.PaperBroker.Submit(ctx, intent)
}

func (b *recordingBroker) submitted() []broker.OrderIntent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.OrderIntent, len(b.intents))
	copy(out, b.intents)
	return out
}

func buyJSON(symbol string, qty int, entry, stop, target float64) string {
	return fmt.Sprintf(`{"action":"buy_to_enter","symbol":%q,"quantity":%d,"leverage":5,`+
		`"entry_price":%g,"profit_target":%g,"stop_loss":%g,"confidence":0.8,`+
		`"opportunity_score":70,"rationale":"momentum entry"}`,
		symbol, qty, entry, target, stop)
}

func strategyConfig(id, symbol string) *strategy.Config {
	return &strategy.Config{
		StrategyID:          id,
		StrategyName:        id + " momentum",
		Selector:            strategy.SymbolSelector{Symbols: []string{symbol}},
		MaxSymbols:          3,
		SelectionMode:       strategy.SelectionAIDriven,
		Timeframe:           market.Timeframe1h,
		InitialCapital:      decimal.NewFromInt(1_000_000),
		MaxPositionSize:     10,
		MaxPositions:        3,
		Leverage:            5,
		RiskPerTrade:        0.05,
		DecisionIntervalSec: 300,
		ConfidenceThreshold: 0.6,
		AIModel:             "test-model",
		AITemperature:       0.3,
		IsActive:            true,
	}
}

type env struct {
	mgr    *Manager
	client *queueClient
	source *stubSource
	broker *recordingBroker
	jrn    *journal.Journal
	rm     *risk.Manager
}

func newEnv(t *testing.T, maxAgents int) *env {
	t.Helper()

	pools := config.DefaultPools()
	client := &queueClient{replies: make(map[string][]string)}
	source := newStubSource()
	brk := &recordingBroker{PaperBroker: broker.NewPaperBroker(zerolog.Nop())}
	t.Cleanup(func() { brk.Close() })

	rm := risk.NewManager(config.RiskConfig{
		MaxTotalCapitalUsage:    0.8,
		MaxCorrelationThreshold: 1.0,
		PortfolioStopLoss:       0.10,
		DailyLossLimit:          0.05,
		MaxLeverageTotal:        20,
		CorrelationWindow:       30,
	}, pools, nil, zerolog.Nop())
	require.NoError(t, rm.Start())
	t.Cleanup(rm.Stop)

	jrn := journal.New(nil, nil, journal.Config{}, zerolog.Nop())
	t.Cleanup(jrn.Close)

	mgr := NewManager(config.TradingConfig{
		MaxAgents:          maxAgents,
		SchedulerTickMS:    10,
		StaleFactor:        2,
		ContractMultiplier: 10,
	}, config.LLMConfig{DefaultModel: "test-model", MaxTokens: 1024}, "", Deps{
		Market:  source,
		Client:  client,
		Risk:    rm,
		Broker:  brk,
		Journal: jrn,
		Pools:   pools,
	}, zerolog.Nop())
	require.NoError(t, mgr.Start())
	t.Cleanup(mgr.Stop)

	return &env{mgr: mgr, client: client, source: source, broker: brk, jrn: jrn, rm: rm}
}

func TestCreateAgentLifecycleErrors(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	_, err := e.mgr.CreateAgent(ctx, strategyConfig("s1", "rb2501"))
	require.NoError(t, err)

	// Same id again.
	_, err = e.mgr.CreateAgent(ctx, strategyConfig("s1", "rb2501"))
	require.ErrorIs(t, err, ErrDuplicateID)

	// Capacity of one is spent.
	_, err = e.mgr.CreateAgent(ctx, strategyConfig("s2", "cu2502"))
	require.ErrorIs(t, err, ErrCapacityExceeded)

	// Broken config never reaches the fleet.
	bad := strategyConfig("s3", "rb2501")
	bad.Leverage = 99
	_, err = e.mgr.CreateAgent(ctx, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leverage")
}

func TestInactiveStrategyComesUpPaused(t *testing.T) {
	e := newEnv(t, 5)
	cfg := strategyConfig("s1", "rb2501")
	cfg.IsActive = false

	a, err := e.mgr.CreateAgent(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, agent.StatePaused, a.State())
}

func TestScheduledAgentsTradeIndependently(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()

	e.source.set(&market.Snapshot{Symbol: "rb2501", Timeframe: market.Timeframe1h, Close: 3500})
	e.source.set(&market.Snapshot{Symbol: "cu2502", Timeframe: market.Timeframe1h, Close: 70000})
	e.client.mu.Lock()
	e.client.replies["rb2501"] = []string{buyJSON("rb2501", 5, 3500, 3400, 3700)}
	e.client.replies["cu2502"] = []string{buyJSON("cu2502", 1, 70000, 69000, 72000)}
	e.client.mu.Unlock()

	a1, err := e.mgr.CreateAgent(ctx, strategyConfig("s1", "rb2501"))
	require.NoError(t, err)
	a2, err := e.mgr.CreateAgent(ctx, strategyConfig("s2", "cu2502"))
	require.NoError(t, err)

	// The scheduler runs the first tick; extra direct ticks drain the
	// routed fills (the state machine makes double ticking safe).
	require.Eventually(t, func() bool {
		a1.Tick(ctx)
		a2.Tick(ctx)
		return len(a1.GetStatus().Positions) == 1 && len(a2.GetStatus().Positions) == 1
	}, 5*time.Second, 50*time.Millisecond)

	s1 := a1.GetStatus()
	require.Len(t, s1.Positions, 1)
	assert.Equal(t, "rb2501", s1.Positions[0].Symbol)
	assert.Equal(t, 5, s1.Positions[0].Quantity)

	s2 := a2.GetStatus()
	require.Len(t, s2.Positions, 1)
	assert.Equal(t, "cu2502", s2.Positions[0].Symbol)
	assert.Equal(t, 1, s2.Positions[0].Quantity)

	// Each fill landed on its own book only.
	assert.Equal(t, "965000", s1.AvailableCash) // 5*3500*10/5 = 35000 margin
	assert.Equal(t, "860000", s2.AvailableCash) // 1*70000*10/5 = 140000 margin

	recs := e.jrn.ByStrategy("s1", 0)
	require.NotEmpty(t, recs)
	assert.Equal(t, journal.OutcomeSubmitted, recs[len(recs)-1].Outcome)
}

func TestPanicHaltsOnlyTheFailingAgent(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()

	e.source.panicOn = "pk2505"
	e.source.set(&market.Snapshot{Symbol: "cu2502", Timeframe: market.Timeframe1h, Close: 70000})

	// Bootstrap succeeds (explicit symbols skip the data source); the
	// panic fires on the first scheduled tick.
	bad, err := e.mgr.CreateAgent(ctx, strategyConfig("bad", "pk2505"))
	require.NoError(t, err)
	good, err := e.mgr.CreateAgent(ctx, strategyConfig("good", "cu2502"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bad.State() == agent.StateHalted
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, bad.GetStatus().HaltReason, "panic")

	// The sibling keeps working.
	require.Eventually(t, func() bool {
		return len(e.jrn.ByStrategy("good", 0)) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, good.State().Trading())
}

func TestKillSwitchHaltsTheFleet(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()

	a1, err := e.mgr.CreateAgent(ctx, strategyConfig("s1", "rb2501"))
	require.NoError(t, err)
	a2, err := e.mgr.CreateAgent(ctx, strategyConfig("s2", "cu2502"))
	require.NoError(t, err)

	// A 10% daily loss on reported capital blows the 5% limit.
	require.NoError(t, e.rm.Report(ctx, risk.AgentReport{
		StrategyID:     "loser",
		InitialCapital: 1_000_000,
		AvailableCash:  700_000,
		DailyPnL:       -300_000,
	}))

	require.Eventually(t, func() bool {
		return a1.State() == agent.StateHalted && a2.State() == agent.StateHalted
	}, 5*time.Second, 20*time.Millisecond)

	status, err := e.rm.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Halted)

	// Operator recovery: clear the kill switch, then resume the fleet.
	require.NoError(t, e.rm.Resume(ctx))
	e.mgr.ResumeAll()
	assert.True(t, a1.State().Trading())
	assert.True(t, a2.State().Trading())
}

func TestRemoveAgentFlattensAndForgets(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()

	e.source.set(&market.Snapshot{Symbol: "rb2501", Timeframe: market.Timeframe1h, Close: 3500})
	e.client.mu.Lock()
	e.client.replies["rb2501"] = []string{buyJSON("rb2501", 5, 3500, 3400, 3700)}
	e.client.mu.Unlock()

	a, err := e.mgr.CreateAgent(ctx, strategyConfig("s1", "rb2501"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		a.Tick(ctx)
		return len(a.GetStatus().Positions) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, e.mgr.RemoveAgent(ctx, "s1"))
	assert.Equal(t, agent.StateTerminated, a.State())

	_, err = e.mgr.Agent("s1")
	require.ErrorIs(t, err, ErrUnknownAgent)

	// The flatten produced a closing order for the full position.
	intents := e.broker.submitted()
	last := intents[len(intents)-1]
	assert.True(t, last.Closing)
	assert.Equal(t, 5, last.Quantity)

	require.Eventually(t, func() bool {
		status, err := e.rm.Status(ctx)
		return err == nil && status.AgentCount == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRemoveAgentSettlesFlattenClose(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()

	e.source.set(&market.Snapshot{Symbol: "rb2501", Timeframe: market.Timeframe1h, Close: 3500})
	e.client.mu.Lock()
	e.client.replies["rb2501"] = []string{buyJSON("rb2501", 5, 3500, 3400, 3700)}
	e.client.mu.Unlock()

	a, err := e.mgr.CreateAgent(ctx, strategyConfig("s1", "rb2501"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		a.Tick(ctx)
		return len(a.GetStatus().Positions) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, e.mgr.RemoveAgent(ctx, "s1"))
	assert.Zero(t, a.PendingOrders(), "removal must not leave intents without a broker outcome")

	// The close's fill routes back through the mailbox while removal is
	// still holding the agent in the fleet; its record must be settled
	// by the time RemoveAgent returns.
	var closeRec *journal.Record
	for _, rec := range e.jrn.ByStrategy("s1", 0) {
		if rec.Decision.Rationale == "flatten on remove" {
			r := rec
			closeRec = &r
			break
		}
	}
	require.NotNil(t, closeRec, "flatten close was never journalled")
	assert.Equal(t, journal.OutcomeSubmitted, closeRec.Outcome)
	require.NotNil(t, closeRec.FillPrice, "flatten close fill never settled")
	require.NotNil(t, closeRec.RealizedPnL)
	assert.Equal(t, 3500.0, *closeRec.FillPrice)
}

func TestUnknownStrategyEventIsDropped(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()

	e.source.set(&market.Snapshot{Symbol: "rb2501", Timeframe: market.Timeframe1h, Close: 3500})
	a, err := e.mgr.CreateAgent(ctx, strategyConfig("s1", "rb2501"))
	require.NoError(t, err)

	// An event for a strategy nobody owns must not wedge the router.
	_, err = e.broker.Submit(ctx, broker.OrderIntent{
		StrategyID: "ghost", DecisionID: "dec-g", Symbol: "au2506",
		Direction: broker.DirectionLong, Quantity: 1, Price: 500,
	})
	require.NoError(t, err)

	e.client.mu.Lock()
	e.client.replies["rb2501"] = []string{buyJSON("rb2501", 2, 3500, 3400, 3700)}
	e.client.mu.Unlock()

	require.Eventually(t, func() bool {
		a.Tick(ctx)
		return len(a.GetStatus().Positions) == 1
	}, 5*time.Second, 50*time.Millisecond)
}
