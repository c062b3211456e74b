package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nehcuh/cherryquant/internal/config"
	"github.com/nehcuh/cherryquant/internal/llm"
	"github.com/nehcuh/cherryquant/internal/market"
)

// Config holds the per-engine model parameters
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// Simulated skips the LLM entirely and runs the deterministic rule
	// tagged as simulated. Used when no API key is configured.
	Simulated bool
}

// Engine is the decision pipeline. One engine serves one agent; the
// shared LLM budget is enforced by the caller before Decide is invoked.
type Engine struct {
	client llm.Client
	pools  config.Pools
	cfg    Config
	log    zerolog.Logger
}

// New creates a decision engine. A nil client forces simulated mode.
func New(client llm.Client, pools config.Pools, cfg Config, log zerolog.Logger) *Engine {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if client == nil {
		cfg.Simulated = true
	}
	return &Engine{
		client: client,
		pools:  pools,
		cfg:    cfg,
		log:    log.With().Str("component", "decision_engine").Logger(),
	}
}

// Decide produces a validated decision for the snapshot. It never
// returns an error: transport failures and persistently malformed
// replies degrade to the deterministic rule, and the caller reads
// Decision.Source to tell which path ran.
func (e *Engine) Decide(ctx context.Context, snap market.Snapshot, actx AgentContext) Result {
	if e.cfg.Simulated {
		d := fallbackDecision(snap, actx)
		d.Source = SourceSimulated
		return Result{Decision: e.finalize(d)}
	}

	sector := e.pools.SectorOf(market.CommodityOf(snap.Symbol))
	system := SystemPrompt(sector)
	user := buildUserPrompt(snap, actx)

	raw, err := e.client.Complete(ctx, llm.CompletionRequest{
		System:      system,
		User:        user,
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		e.log.Warn().
			Err(err).
			Str("symbol", snap.Symbol).
			Str("strategy_id", actx.StrategyID).
			Msg("LLM call failed, using fallback rule")
		d := fallbackDecision(snap, actx)
		d.Source = SourceFallback
		return Result{Decision: e.finalize(d)}
	}

	wire, parseErr := parseDecision(raw, snap.Symbol)
	if parseErr == nil {
		return Result{Decision: e.finalize(fromWire(wire, SourceLLM)), Raw: raw}
	}

	// One repair retry: feed the validation error back and ask again.
	e.log.Debug().
		Err(parseErr).
		Str("symbol", snap.Symbol).
		Msg("LLM reply invalid, attempting repair")

	repaired, err := e.client.Complete(ctx, llm.CompletionRequest{
		System:      system,
		User:        buildRepairPrompt(raw, parseErr),
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err == nil {
		raw = repaired
		if wire, parseErr = parseDecision(repaired, snap.Symbol); parseErr == nil {
			return Result{Decision: e.finalize(fromWire(wire, SourceLLM)), Raw: raw}
		}
	}

	e.log.Warn().
		Err(parseErr).
		Str("symbol", snap.Symbol).
		Str("strategy_id", actx.StrategyID).
		Msg("LLM reply invalid after repair retry, using fallback rule")

	d := fallbackDecision(snap, actx)
	d.Source = SourceFallback
	return Result{Decision: e.finalize(d), Raw: raw}
}

// finalize stamps identity and time on a decision
func (e *Engine) finalize(d Decision) Decision {
	d.DecisionID = uuid.New().String()
	d.DecisionTime = time.Now().UTC()
	return d
}
