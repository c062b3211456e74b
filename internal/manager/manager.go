// Package manager owns the agent fleet. It creates and removes agents,
// schedules their decision ticks, routes broker events to the right
// mailbox, isolates per-agent panics, and propagates the portfolio
// kill switch to every running agent.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nehcuh/cherryquant/internal/agent"
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

// Lifecycle errors surfaced to the operator API
var (
	ErrDuplicateID      = errors.New("manager: strategy id already exists")
	ErrUnknownAgent     = errors.New("manager: unknown agent")
	ErrCapacityExceeded = errors.New("manager: agent capacity exceeded")
)

// Deps wires the manager into the rest of the system. A nil Client
// puts every engine in simulated mode. Orders is the submission path
// handed to agents; when nil, intents go straight to Broker without
// the retry wrapper.
type Deps struct {
	Market  market.Source
	Client  llm.Client
	Budget  *llm.Budget
	Risk    *risk.Manager
	Broker  broker.Broker
	Orders  agent.OrderSubmitter
	Journal *journal.Journal
	Alerts  *alerts.Manager
	Pools   config.Pools
}

// Manager supervises the agent fleet
type Manager struct {
	cfg       config.TradingConfig
	llmCfg    config.LLMConfig
	resetSpec string
	deps      Deps
	log       zerolog.Logger

	mu     sync.Mutex
	agents map[string]*agent.Agent

	cron   *cron.Cron
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewManager creates the fleet manager. resetSpec is the cron spec for
// the trading-day rollover of every agent's daily PnL; empty disables
// it. Call Start before use.
func NewManager(cfg config.TradingConfig, llmCfg config.LLMConfig, resetSpec string, deps Deps, log zerolog.Logger) *Manager {
	if cfg.SchedulerTickMS <= 0 {
		cfg.SchedulerTickMS = 500
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 20
	}
	return &Manager{
		cfg:       cfg,
		llmCfg:    llmCfg,
		resetSpec: resetSpec,
		deps:      deps,
		log:       log.With().Str("component", "agent_manager").Logger(),
		agents:    make(map[string]*agent.Agent),
		stop:      make(chan struct{}),
	}
}

// Start launches the scheduler, the broker event router, the risk halt
// watcher, and the daily-reset cron.
func (m *Manager) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.resetSpec != "" {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(m.resetSpec, m.dailyReset); err != nil {
			return fmt.Errorf("invalid daily reset spec %q: %w", m.resetSpec, err)
		}
		m.cron.Start()
	}

	m.wg.Add(2)
	go m.scheduleLoop(ctx)
	go m.routeEvents(ctx)

	if m.deps.Risk != nil {
		haltCh, err := m.deps.Risk.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to risk halts: %w", err)
		}
		m.wg.Add(1)
		go m.watchHalts(ctx, haltCh)
	}

	m.log.Info().
		Int("max_agents", m.cfg.MaxAgents).
		Dur("scheduler_tick", m.cfg.SchedulerTick()).
		Msg("Agent manager started")
	return nil
}

// Stop shuts the manager down. Running ticks are cancelled through
// their context; agents keep their state for inspection.
func (m *Manager) Stop() {
	m.once.Do(func() {
		if m.cron != nil {
			m.cron.Stop()
		}
		close(m.stop)
		if m.cancel != nil {
			m.cancel()
		}
	})
	m.wg.Wait()
}

// CreateAgent validates the strategy, builds its decision engine, and
// bootstraps the agent. Inactive strategies come up paused.
func (m *Manager) CreateAgent(ctx context.Context, cfg *strategy.Config) (*agent.Agent, error) {
	if err := cfg.Validate(m.deps.Pools); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}

	model := cfg.AIModel
	if model == "" {
		model = m.llmCfg.DefaultModel
	}
	eng := engine.New(m.deps.Client, m.deps.Pools, engine.Config{
		Model:       model,
		Temperature: cfg.AITemperature,
		MaxTokens:   m.llmCfg.MaxTokens,
		Simulated:   m.deps.Client == nil,
	}, m.log)

	orders := m.deps.Orders
	if orders == nil {
		orders = m.deps.Broker
	}

	a := agent.New(cfg, agent.Deps{
		Market:  m.deps.Market,
		Engine:  eng,
		Budget:  m.deps.Budget,
		Risk:    m.deps.Risk,
		Orders:  orders,
		Journal: m.deps.Journal,
		Alerts:  m.deps.Alerts,
		Pools:   m.deps.Pools,
	}, m.cfg.ContractMultiplier, m.cfg.StaleFactor, m.log)

	m.mu.Lock()
	if _, exists := m.agents[cfg.StrategyID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, cfg.StrategyID)
	}
	if m.liveCount() >= m.cfg.MaxAgents {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, m.cfg.MaxAgents)
	}
	m.agents[cfg.StrategyID] = a
	m.mu.Unlock()

	if err := a.Bootstrap(ctx); err != nil {
		m.mu.Lock()
		delete(m.agents, cfg.StrategyID)
		m.mu.Unlock()
		return nil, err
	}
	if !cfg.IsActive {
		if err := a.Pause(); err != nil {
			return nil, err
		}
	}

	m.log.Info().
		Str("strategy_id", cfg.StrategyID).
		Str("strategy_name", cfg.StrategyName).
		Bool("active", cfg.IsActive).
		Msg("Agent created")
	return a, nil
}

// liveCount counts non-terminated agents. Callers hold m.mu.
func (m *Manager) liveCount() int {
	n := 0
	for _, a := range m.agents {
		if !a.State().Terminal() {
			n++
		}
	}
	return n
}

// Agent returns the agent for a strategy id
func (m *Manager) Agent(strategyID string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[strategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, strategyID)
	}
	return a, nil
}

// Agents returns all agents ordered by strategy id
func (m *Manager) Agents() []*agent.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Config().StrategyID < out[j].Config().StrategyID
	})
	return out
}

// Statuses returns the observable state of every agent
func (m *Manager) Statuses() []agent.Status {
	agents := m.Agents()
	out := make([]agent.Status, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.GetStatus())
	}
	return out
}

// PauseAgent suspends one agent; idempotent
func (m *Manager) PauseAgent(strategyID string) error {
	a, err := m.Agent(strategyID)
	if err != nil {
		return err
	}
	return a.Pause()
}

// ResumeAgent returns one agent to trading; idempotent
func (m *Manager) ResumeAgent(strategyID string) error {
	a, err := m.Agent(strategyID)
	if err != nil {
		return err
	}
	return a.Resume()
}

// HaltAgent forces one agent into HALTED
func (m *Manager) HaltAgent(ctx context.Context, strategyID, reason string) error {
	a, err := m.Agent(strategyID)
	if err != nil {
		return err
	}
	a.Halt(ctx, reason)
	return nil
}

// RemoveAgent flattens an agent's positions, terminates it, and drops
// its state from the risk aggregate. The journal keeps its records.
func (m *Manager) RemoveAgent(ctx context.Context, strategyID string) error {
	a, err := m.Agent(strategyID)
	if err != nil {
		return err
	}

	if err := a.Pause(); err != nil && a.State() != agent.StateHalted {
		return fmt.Errorf("pause before remove: %w", err)
	}
	if err := a.Flatten(ctx); err != nil {
		m.log.Warn().Err(err).Str("strategy_id", strategyID).Msg("Flatten on remove failed, terminating anyway")
	}
	// The flatten fills travel broker -> router -> mailbox
	// asynchronously. The agent must stay in the routing map until
	// every submitted intent has its outcome, or the close records
	// never settle.
	m.awaitSettlement(ctx, a)
	if err := a.Terminate(); err != nil {
		return err
	}

	if m.deps.Risk != nil {
		if err := m.deps.Risk.Forget(ctx, strategyID); err != nil {
			m.log.Warn().Err(err).Str("strategy_id", strategyID).Msg("Failed to drop agent from risk aggregate")
		}
	}

	m.mu.Lock()
	delete(m.agents, strategyID)
	m.mu.Unlock()

	m.log.Info().Str("strategy_id", strategyID).Msg("Agent removed")
	return nil
}

// settleWait bounds how long removal waits for in-flight fills
const settleWait = 5 * time.Second

// awaitSettlement polls the agent's pending intents until they all
// have a broker outcome or the deadline passes.
func (m *Manager) awaitSettlement(ctx context.Context, a *agent.Agent) {
	deadline := time.Now().Add(settleWait)
	for a.PendingOrders() > 0 {
		if ctx.Err() != nil || time.Now().After(deadline) {
			m.log.Warn().
				Str("strategy_id", a.Config().StrategyID).
				Int("pending", a.PendingOrders()).
				Msg("Removing agent with unsettled orders")
			return
		}
		time.Sleep(5 * time.Millisecond)
		a.Reconcile(ctx)
	}
}

// HaltAll halts every non-terminal agent
func (m *Manager) HaltAll(ctx context.Context, reason string) {
	for _, a := range m.Agents() {
		if a.State().Terminal() {
			continue
		}
		a.Halt(ctx, reason)
	}
}

// ResumeAll returns every halted or paused agent to trading
func (m *Manager) ResumeAll() {
	for _, a := range m.Agents() {
		if err := a.Resume(); err != nil && !a.State().Terminal() {
			m.log.Warn().Err(err).Str("strategy_id", a.Config().StrategyID).Msg("Resume failed")
		}
	}
}

// scheduleLoop wakes at the scheduler tick and runs every due agent.
// Ties go to the agent that has waited longest.
func (m *Manager) scheduleLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SchedulerTick())
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			due := m.dueAgents(now)
			for _, a := range due {
				m.wg.Add(1)
				go m.runTick(ctx, a)
			}
		}
	}
}

func (m *Manager) dueAgents(now time.Time) []*agent.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*agent.Agent
	for _, a := range m.agents {
		if a.Due(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].LastDecisionTime().Before(due[j].LastDecisionTime())
	})
	return due
}

// runTick executes one agent tick. A panic halts that agent only; the
// rest of the fleet keeps trading.
func (m *Manager) runTick(ctx context.Context, a *agent.Agent) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("strategy_id", a.Config().StrategyID).
				Interface("panic", r).
				Msg("Agent tick panicked")
			a.Halt(ctx, fmt.Sprintf("panic during tick: %v", r))
		}
	}()
	a.Tick(ctx)
}

// routeEvents delivers broker events to the owning agent's mailbox
func (m *Manager) routeEvents(ctx context.Context) {
	defer m.wg.Done()

	if m.deps.Broker == nil {
		return
	}
	events := m.deps.Broker.Events()
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a, err := m.Agent(ev.EventStrategyID())
			if err != nil {
				m.log.Warn().
					Str("strategy_id", ev.EventStrategyID()).
					Msg("Broker event for unknown agent dropped")
				continue
			}
			a.Enqueue(ev)
		}
	}
}

// watchHalts propagates the portfolio kill switch to the whole fleet
func (m *Manager) watchHalts(ctx context.Context, haltCh <-chan risk.HaltEvent) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-haltCh:
			if !ok {
				return
			}
			m.log.Error().
				Str("code", string(ev.Code)).
				Str("message", ev.Message).
				Msg("Portfolio kill switch engaged, halting all agents")
			m.HaltAll(ctx, ev.Message)
		}
	}
}

// dailyReset rolls every agent's daily PnL at the trading-day boundary
func (m *Manager) dailyReset() {
	for _, a := range m.Agents() {
		a.ResetDaily()
	}
	m.log.Info().Msg("Daily PnL counters reset")
}
