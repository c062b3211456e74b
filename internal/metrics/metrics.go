// Package metrics exposes fleet and portfolio gauges to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome and source labels come from the journal's closed enums, so
// cardinality stays bounded.
var (
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cherryquant_decisions_total",
		Help: "Decision records observed on the journal stream",
	}, []string{"outcome", "source"})

	AgentStates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cherryquant_agent_states",
		Help: "Number of agents per lifecycle state",
	}, []string{"state"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cherryquant_open_positions",
		Help: "Open positions across the fleet",
	})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cherryquant_realized_pnl",
		Help: "Realized PnL summed across all agents, in yuan",
	})

	CapitalUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cherryquant_capital_usage_ratio",
		Help: "Portfolio used margin over total capital (0.0 to 1.0)",
	})

	PortfolioDailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cherryquant_portfolio_daily_pnl",
		Help: "Portfolio daily PnL in yuan",
	})

	PortfolioDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cherryquant_portfolio_drawdown",
		Help: "Portfolio drawdown from peak equity (0.0 to 1.0)",
	})

	KillSwitchEngaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cherryquant_kill_switch_engaged",
		Help: "1 while the portfolio kill switch is engaged",
	})
)
