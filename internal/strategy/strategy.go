// Package strategy defines the immutable per-agent configuration: what
// to trade, how much capital, how often to decide, and which model to
// ask. Configs are versioned; an update creates a new version rather
// than mutating in place.
package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nehcuh/cherryquant/internal/config"
	"github.com/nehcuh/cherryquant/internal/market"
)

// SelectionMode controls how an agent picks its symbols each tick
type SelectionMode string

const (
	SelectionAIDriven SelectionMode = "ai_driven"
	SelectionManual   SelectionMode = "manual"
)

// SymbolSelector names the universe a strategy trades. Exactly one of
// the three fields may be set: explicit contract symbols, commodity
// codes (resolved to dominant contracts each tick), or a named pool.
type SymbolSelector struct {
	Symbols     []string `yaml:"symbols,omitempty" json:"symbols,omitempty"`
	Commodities []string `yaml:"commodities,omitempty" json:"commodities,omitempty"`
	Pool        string   `yaml:"pool,omitempty" json:"pool,omitempty"`
}

// Config is one strategy's full configuration
type Config struct {
	StrategyID   string `yaml:"strategy_id" json:"strategy_id"`
	StrategyName string `yaml:"strategy_name" json:"strategy_name"`

	Selector      SymbolSelector   `yaml:"selector" json:"selector"`
	MaxSymbols    int              `yaml:"max_symbols" json:"max_symbols"`
	SelectionMode SelectionMode    `yaml:"selection_mode" json:"selection_mode"`
	Timeframe     market.Timeframe `yaml:"timeframe" json:"timeframe"`

	InitialCapital  decimal.Decimal `yaml:"initial_capital" json:"initial_capital"`
	MaxPositionSize int             `yaml:"max_position_size" json:"max_position_size"` // lots per position
	MaxPositions    int             `yaml:"max_positions" json:"max_positions"`
	Leverage        int             `yaml:"leverage" json:"leverage"`
	RiskPerTrade    float64         `yaml:"risk_per_trade" json:"risk_per_trade"` // fraction of available cash

	DecisionIntervalSec int     `yaml:"decision_interval_sec" json:"decision_interval_sec"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`

	AIModel       string  `yaml:"ai_model" json:"ai_model"`
	AITemperature float64 `yaml:"ai_temperature" json:"ai_temperature"`

	IsActive       bool `yaml:"is_active" json:"is_active"`
	ManualOverride bool `yaml:"manual_override" json:"manual_override"`

	Version   int       `yaml:"version,omitempty" json:"version"`
	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at"`
}

// DecisionInterval returns the tick cadence as a duration
func (c *Config) DecisionInterval() time.Duration {
	return time.Duration(c.DecisionIntervalSec) * time.Second
}

// Validate checks the config against ranges and the known pools.
// Validation errors surface synchronously to the operator; an invalid
// config never reaches an agent.
func (c *Config) Validate(pools config.Pools) error {
	if c.StrategyID == "" {
		return fmt.Errorf("strategy_id is required")
	}
	if c.StrategyName == "" {
		return fmt.Errorf("strategy_name is required")
	}

	selectors := 0
	if len(c.Selector.Symbols) > 0 {
		selectors++
	}
	if len(c.Selector.Commodities) > 0 {
		selectors++
	}
	if c.Selector.Pool != "" {
		selectors++
	}
	if selectors != 1 {
		return fmt.Errorf("exactly one of symbols, commodities, or pool must be set")
	}
	if c.Selector.Pool != "" {
		if _, err := pools.Expand(c.Selector.Pool); err != nil {
			return err
		}
	}

	switch c.SelectionMode {
	case SelectionAIDriven, SelectionManual:
	default:
		return fmt.Errorf("selection_mode %q must be ai_driven or manual", c.SelectionMode)
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("timeframe %q is not supported", c.Timeframe)
	}

	if c.MaxSymbols < 1 {
		return fmt.Errorf("max_symbols must be at least 1")
	}
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial_capital must be positive")
	}
	if c.MaxPositionSize < 1 {
		return fmt.Errorf("max_position_size must be at least 1 lot")
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be at least 1")
	}
	if c.Leverage < 1 || c.Leverage > 20 {
		return fmt.Errorf("leverage %d is outside [1, 20]", c.Leverage)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade %.4f is outside (0, 1]", c.RiskPerTrade)
	}
	if c.DecisionIntervalSec < 5 {
		return fmt.Errorf("decision_interval_sec must be at least 5")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.4f is outside [0, 1]", c.ConfidenceThreshold)
	}
	if c.AITemperature < 0 || c.AITemperature > 2 {
		return fmt.Errorf("ai_temperature %.2f is outside [0, 2]", c.AITemperature)
	}
	return nil
}

// Commodities resolves the selector to the commodity codes the agent
// should track. Explicit symbols return nil; the agent uses them as-is.
func (c *Config) Commodities(pools config.Pools) ([]string, error) {
	switch {
	case len(c.Selector.Symbols) > 0:
		return nil, nil
	case len(c.Selector.Commodities) > 0:
		out := make([]string, len(c.Selector.Commodities))
		copy(out, c.Selector.Commodities)
		return out, nil
	default:
		return pools.Expand(c.Selector.Pool)
	}
}
