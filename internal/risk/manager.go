package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nehcuh/cherryquant/internal/alerts"
	"github.com/nehcuh/cherryquant/internal/config"
	"github.com/nehcuh/cherryquant/internal/market"
)

// ErrStopped is returned when the manager has been shut down
var ErrStopped = errors.New("risk: manager stopped")

// largeExposureFraction of total capital in one order triggers a
// warning alert without affecting the verdict.
const largeExposureFraction = 0.20

// Manager is the portfolio risk gate. All state lives behind a single
// goroutine; public methods marshal work onto it and wait for replies,
// so every evaluation sees a consistent snapshot captured at admission.
type Manager struct {
	cfg     config.RiskConfig
	pools   config.Pools
	alerter *alerts.Manager
	log     zerolog.Logger

	cmds chan func()
	stop chan struct{}
	done chan struct{}
	once sync.Once

	cron *cron.Cron

	// Everything below is owned by the run goroutine.
	agents     map[string]AgentReport
	returns    *returnsTracker
	halted     bool
	haltReason string
	peakEquity float64
	subs       []chan HaltEvent
}

// NewManager creates a risk manager. Call Start before use.
func NewManager(cfg config.RiskConfig, pools config.Pools, alerter *alerts.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		pools:   pools,
		alerter: alerter,
		log:     log.With().Str("component", "risk_manager").Logger(),
		cmds:    make(chan func()),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		agents:  make(map[string]AgentReport),
		returns: newReturnsTracker(cfg.CorrelationWindow),
	}
}

// Start launches the manager goroutine and the daily-reset cron
func (m *Manager) Start() error {
	go m.run()

	if m.cfg.DailyResetSpec != "" {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(m.cfg.DailyResetSpec, m.dailyReset); err != nil {
			return fmt.Errorf("invalid daily reset spec %q: %w", m.cfg.DailyResetSpec, err)
		}
		m.cron.Start()
	}
	return nil
}

// Stop shuts the manager down; in-flight calls fail with ErrStopped
func (m *Manager) Stop() {
	m.once.Do(func() {
		if m.cron != nil {
			m.cron.Stop()
		}
		close(m.stop)
	})
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case cmd := <-m.cmds:
			cmd()
		}
	}
}

// exec runs fn on the manager goroutine and waits for it
func (m *Manager) exec(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	select {
	case m.cmds <- wrapped:
	case <-m.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-m.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Evaluate judges one order intent against all portfolio limits. The
// verdict's first violation wins; only a capital-usage bind shrinks the
// quantity instead of vetoing.
func (m *Manager) Evaluate(ctx context.Context, req EvalRequest) (Verdict, error) {
	var v Verdict
	err := m.exec(ctx, func() { v = m.evaluate(ctx, req) })
	return v, err
}

// Report records an agent's latest state and re-checks the kill switch
func (m *Manager) Report(ctx context.Context, report AgentReport) error {
	return m.exec(ctx, func() { m.applyReport(ctx, report) })
}

// Forget drops an agent's contribution to the portfolio view
func (m *Manager) Forget(ctx context.Context, strategyID string) error {
	return m.exec(ctx, func() { delete(m.agents, strategyID) })
}

// ObserveReturns replaces a symbol's recent-returns window
func (m *Manager) ObserveReturns(ctx context.Context, symbol string, series []float64) error {
	return m.exec(ctx, func() { m.returns.set(symbol, series) })
}

// Status returns a copy of the aggregate portfolio view
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var s Status
	err := m.exec(ctx, func() { s = m.status() })
	return s, err
}

// Resume clears a halt. The equity peak resets to the current level so
// the same drawdown does not immediately re-trip the switch.
func (m *Manager) Resume(ctx context.Context) error {
	return m.exec(ctx, func() {
		if !m.halted {
			return
		}
		m.halted = false
		m.haltReason = ""
		m.peakEquity = m.totalEquity()
		m.log.Info().Float64("peak_equity", m.peakEquity).Msg("Trading resumed by operator")
	})
}

// Limits returns the currently enforced risk limits
func (m *Manager) Limits(ctx context.Context) (config.RiskConfig, error) {
	var cfg config.RiskConfig
	err := m.exec(ctx, func() { cfg = m.cfg })
	return cfg, err
}

// UpdateLimits replaces the enforced limits at runtime. The correlation
// window and reset spec are fixed at construction and keep their old
// values.
func (m *Manager) UpdateLimits(ctx context.Context, cfg config.RiskConfig) error {
	return m.exec(ctx, func() {
		cfg.CorrelationWindow = m.cfg.CorrelationWindow
		cfg.DailyResetSpec = m.cfg.DailyResetSpec
		m.cfg = cfg
		m.log.Info().
			Float64("max_total_capital_usage", cfg.MaxTotalCapitalUsage).
			Float64("max_correlation_threshold", cfg.MaxCorrelationThreshold).
			Float64("max_sector_concentration", cfg.MaxSectorConcentration).
			Float64("portfolio_stop_loss", cfg.PortfolioStopLoss).
			Float64("daily_loss_limit", cfg.DailyLossLimit).
			Float64("max_leverage_total", cfg.MaxLeverageTotal).
			Msg("Risk limits updated")
	})
}

// Halted reports whether the kill switch is engaged
func (m *Manager) Halted(ctx context.Context) (bool, error) {
	var h bool
	err := m.exec(ctx, func() { h = m.halted })
	return h, err
}

// Subscribe returns a channel receiving kill-switch events. The channel
// is buffered; a slow consumer misses nothing because halts are rare
// and sticky until resume.
func (m *Manager) Subscribe(ctx context.Context) (<-chan HaltEvent, error) {
	ch := make(chan HaltEvent, 4)
	err := m.exec(ctx, func() { m.subs = append(m.subs, ch) })
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// everything below runs on the manager goroutine

func (m *Manager) evaluate(ctx context.Context, req EvalRequest) Verdict {
	intent := req.Intent
	if m.halted {
		return veto(ReasonHalted, fmt.Sprintf("trading halted: %s", m.haltReason))
	}

	leverage := req.Leverage
	if leverage < 1 {
		leverage = 1
	}
	multiplier := req.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	totalCapital := m.totalCapital()
	if totalCapital <= 0 {
		return veto(ReasonCapitalUsage, "no capital registered with the risk manager")
	}

	orderExposure := intent.Price * float64(intent.Quantity) * float64(multiplier)
	orderMargin := orderExposure / float64(leverage)
	usedMargin := m.totalUsedMargin()
	totalExposure := m.totalExposure()
	equity := m.totalEquity()

	// Closing orders release risk rather than add it; only the halt
	// check applies.
	if intent.Closing {
		return Verdict{Approved: true, Quantity: intent.Quantity}
	}

	// Leverage ceiling across the whole book.
	if m.cfg.MaxLeverageTotal > 0 && equity > 0 {
		if (totalExposure+orderExposure)/equity > m.cfg.MaxLeverageTotal {
			return veto(ReasonLeverage, fmt.Sprintf(
				"portfolio leverage %.2fx would exceed the %.2fx ceiling",
				(totalExposure+orderExposure)/equity, m.cfg.MaxLeverageTotal))
		}
	}

	// Correlation clustering: an entry correlated with an existing
	// same-direction position concentrates risk that looks diversified.
	if m.cfg.MaxCorrelationThreshold > 0 {
		for _, rep := range m.agents {
			for _, pos := range rep.Positions {
				if pos.Symbol == intent.Symbol || pos.Direction != intent.Direction {
					continue
				}
				corr, ok := m.returns.correlation(intent.Symbol, pos.Symbol)
				if !ok {
					continue
				}
				if corr > m.cfg.MaxCorrelationThreshold {
					if m.alerter != nil {
						m.alerter.CorrelationSpike(ctx, intent.Symbol, pos.Symbol, corr)
					}
					return veto(ReasonCorrelation, fmt.Sprintf(
						"%s correlates with open %s position at %.2f (limit %.2f)",
						intent.Symbol, pos.Symbol, corr, m.cfg.MaxCorrelationThreshold))
				}
			}
		}
	}

	// Sector concentration over the hypothetical book. An empty book is
	// exempt: the first position is trivially 100% of exposure.
	if m.cfg.MaxSectorConcentration > 0 && totalExposure > 0 {
		sector := m.pools.SectorOf(market.CommodityOf(intent.Symbol))
		sectorExposure := m.sectorExposure()[sector] + orderExposure
		newTotal := totalExposure + orderExposure
		if newTotal > 0 {
			fraction := sectorExposure / newTotal
			if fraction > m.cfg.MaxSectorConcentration {
				if m.alerter != nil {
					m.alerter.SectorConcentration(ctx, sector, fraction, m.cfg.MaxSectorConcentration)
				}
				return veto(ReasonSectorConcentration, fmt.Sprintf(
					"sector %s would hold %.1f%% of exposure (limit %.1f%%)",
					sector, fraction*100, m.cfg.MaxSectorConcentration*100))
			}
			if m.alerter != nil && fraction > 0.8*m.cfg.MaxSectorConcentration {
				m.alerter.SectorConcentration(ctx, sector, fraction, m.cfg.MaxSectorConcentration)
			}
		}
	}

	// Capital usage is the one limit that shrinks instead of vetoing:
	// a smaller order may still fit.
	quantity := intent.Quantity
	shrunk := false
	if m.cfg.MaxTotalCapitalUsage > 0 {
		budget := m.cfg.MaxTotalCapitalUsage*totalCapital - usedMargin
		if orderMargin > budget {
			perLot := intent.Price * float64(multiplier) / float64(leverage)
			fit := 0
			if perLot > 0 && budget > 0 {
				fit = int(math.Floor(budget / perLot))
			}
			if fit < 1 {
				return veto(ReasonCapitalUsage, fmt.Sprintf(
					"order margin %.2f exceeds remaining capital budget %.2f",
					orderMargin, math.Max(budget, 0)))
			}
			quantity = fit
			shrunk = true
			m.log.Info().
				Str("symbol", intent.Symbol).
				Str("strategy_id", intent.StrategyID).
				Int("requested", intent.Quantity).
				Int("granted", quantity).
				Msg("Order shrunk to fit capital budget")
		}
	}

	if m.alerter != nil && orderExposure > largeExposureFraction*totalCapital {
		m.alerter.LargeExposure(ctx, intent.StrategyID, intent.Symbol, orderExposure/totalCapital)
	}

	return Verdict{Approved: true, Quantity: quantity, Shrunk: shrunk}
}

func (m *Manager) applyReport(ctx context.Context, report AgentReport) {
	m.agents[report.StrategyID] = report

	equity := m.totalEquity()
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.halted {
		return
	}

	if m.cfg.PortfolioStopLoss > 0 && m.peakEquity > 0 {
		drawdown := (m.peakEquity - equity) / m.peakEquity
		if drawdown >= m.cfg.PortfolioStopLoss {
			m.engageKillSwitch(ctx, ReasonPortfolioStopLoss, fmt.Sprintf(
				"portfolio drawdown %.2f%% breached the %.2f%% stop",
				drawdown*100, m.cfg.PortfolioStopLoss*100), drawdown)
			return
		}
	}

	if m.cfg.DailyLossLimit > 0 {
		totalCapital := m.totalCapital()
		daily := m.totalDailyPnL()
		if totalCapital > 0 && daily <= -m.cfg.DailyLossLimit*totalCapital {
			m.engageKillSwitch(ctx, ReasonDailyLossLimit, fmt.Sprintf(
				"daily PnL %.2f breached the %.2f%% loss limit",
				daily, m.cfg.DailyLossLimit*100), daily/totalCapital)
		}
	}
}

func (m *Manager) engageKillSwitch(ctx context.Context, code ReasonCode, message string, magnitude float64) {
	m.halted = true
	m.haltReason = message
	m.log.Error().
		Str("code", string(code)).
		Msg("Kill switch engaged: " + message)
	if m.alerter != nil {
		m.alerter.KillSwitch(ctx, message, magnitude)
	}

	ev := HaltEvent{Code: code, Message: message, At: time.Now().UTC()}
	for _, sub := range m.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// dailyReset zeroes every agent's daily PnL at the trading-day boundary
func (m *Manager) dailyReset() {
	ctx := context.Background()
	_ = m.exec(ctx, func() {
		for id, rep := range m.agents {
			rep.DailyPnL = 0
			m.agents[id] = rep
		}
		m.log.Info().Msg("Daily PnL counters reset")
	})
}

func (m *Manager) status() Status {
	equity := m.totalEquity()
	usedMargin := m.totalUsedMargin()
	totalCapital := m.totalCapital()

	drawdown := 0.0
	if m.peakEquity > 0 {
		drawdown = (m.peakEquity - equity) / m.peakEquity
	}
	usage := 0.0
	if totalCapital > 0 {
		usage = usedMargin / totalCapital
	}

	return Status{
		TotalCapital:   totalCapital,
		TotalEquity:    equity,
		TotalExposure:  m.totalExposure(),
		UsedMargin:     usedMargin,
		CapitalUsage:   usage,
		SectorExposure: m.sectorExposure(),
		DailyPnL:       m.totalDailyPnL(),
		Drawdown:       drawdown,
		PeakEquity:     m.peakEquity,
		Halted:         m.halted,
		HaltReason:     m.haltReason,
		AgentCount:     len(m.agents),
		UpdatedAt:      time.Now().UTC(),
	}
}

func (m *Manager) totalCapital() float64 {
	var sum float64
	for _, rep := range m.agents {
		sum += rep.InitialCapital
	}
	return sum
}

func (m *Manager) totalEquity() float64 {
	var sum float64
	for _, rep := range m.agents {
		sum += rep.AvailableCash + rep.UsedMargin
	}
	return sum
}

func (m *Manager) totalUsedMargin() float64 {
	var sum float64
	for _, rep := range m.agents {
		sum += rep.UsedMargin
	}
	return sum
}

func (m *Manager) totalDailyPnL() float64 {
	var sum float64
	for _, rep := range m.agents {
		sum += rep.DailyPnL
	}
	return sum
}

func (m *Manager) totalExposure() float64 {
	var sum float64
	for _, rep := range m.agents {
		for _, pos := range rep.Positions {
			sum += positionExposure(pos)
		}
	}
	return sum
}

func (m *Manager) sectorExposure() map[string]float64 {
	out := make(map[string]float64)
	for _, rep := range m.agents {
		for _, pos := range rep.Positions {
			sector := m.pools.SectorOf(market.CommodityOf(pos.Symbol))
			out[sector] += positionExposure(pos)
		}
	}
	return out
}

func positionExposure(pos PositionReport) float64 {
	mult := pos.Multiplier
	if mult < 1 {
		mult = 1
	}
	return pos.AvgPrice * float64(pos.Quantity) * float64(mult)
}

func veto(code ReasonCode, reason string) Verdict {
	return Verdict{Approved: false, ReasonCode: code, Reason: reason}
}
