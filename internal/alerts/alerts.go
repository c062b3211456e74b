// Package alerts delivers severity-tagged operational alerts through
// pluggable sinks. The risk manager and agent manager are the main
// producers; sinks fan out to the log and, when configured, Telegram.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Severity classifies an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operational event worth a human's attention
type Alert struct {
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Severity   Severity               `json:"severity"`
	StrategyID string                 `json:"strategy_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Sink delivers alerts to one destination
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured sink. A failing sink is
// logged and skipped; delivery to the rest continues.
type Manager struct {
	sinks []Sink
	log   zerolog.Logger
}

// NewManager creates an alert manager over the given sinks
func NewManager(log zerolog.Logger, sinks ...Sink) *Manager {
	return &Manager{
		sinks: sinks,
		log:   log.With().Str("component", "alerts").Logger(),
	}
}

// Send delivers an alert to all sinks, returning the last sink error
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			m.log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to deliver alert")
			lastErr = err
		}
	}
	return lastErr
}

// Info sends an informational alert
func (m *Manager) Info(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityInfo, Metadata: metadata})
}

// Warning sends a warning alert
func (m *Manager) Warning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityWarning, Metadata: metadata})
}

// Critical sends a critical alert
func (m *Manager) Critical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityCritical, Metadata: metadata})
}

// AgentHalted reports an agent forced into the halted state
func (m *Manager) AgentHalted(ctx context.Context, strategyID, reason string) {
	m.Send(ctx, Alert{
		Title:      "Agent Halted",
		Message:    fmt.Sprintf("Strategy %s halted: %s", strategyID, reason),
		Severity:   SeverityCritical,
		StrategyID: strategyID,
		Metadata:   map[string]interface{}{"reason": reason},
	})
}

// KillSwitch reports a portfolio-wide trading halt
func (m *Manager) KillSwitch(ctx context.Context, reason string, drawdown float64) {
	m.Send(ctx, Alert{
		Title:    "Kill Switch Engaged",
		Message:  fmt.Sprintf("All trading halted: %s (drawdown %.2f%%)", reason, drawdown*100),
		Severity: SeverityCritical,
		Metadata: map[string]interface{}{"reason": reason, "drawdown": drawdown},
	})
}

// CorrelationSpike reports two same-direction positions moving together
func (m *Manager) CorrelationSpike(ctx context.Context, symbolA, symbolB string, correlation float64) {
	m.Send(ctx, Alert{
		Title:    "Correlation Spike",
		Message:  fmt.Sprintf("%s and %s correlate at %.2f in the same direction", symbolA, symbolB, correlation),
		Severity: SeverityWarning,
		Metadata: map[string]interface{}{"symbol_a": symbolA, "symbol_b": symbolB, "correlation": correlation},
	})
}

// SectorConcentration reports one sector nearing its exposure limit
func (m *Manager) SectorConcentration(ctx context.Context, sector string, fraction, limit float64) {
	severity := SeverityInfo
	if fraction >= limit {
		severity = SeverityWarning
	}
	m.Send(ctx, Alert{
		Title:    "Sector Concentration",
		Message:  fmt.Sprintf("Sector %s holds %.1f%% of exposure (limit %.1f%%)", sector, fraction*100, limit*100),
		Severity: severity,
		Metadata: map[string]interface{}{"sector": sector, "fraction": fraction, "limit": limit},
	})
}

// LargeExposure reports a single trade taking an outsized share of capital
func (m *Manager) LargeExposure(ctx context.Context, strategyID, symbol string, fraction float64) {
	m.Send(ctx, Alert{
		Title:      "Large Single-Trade Exposure",
		Message:    fmt.Sprintf("Order on %s would use %.1f%% of total capital", symbol, fraction*100),
		Severity:   SeverityWarning,
		StrategyID: strategyID,
		Metadata:   map[string]interface{}{"symbol": symbol, "fraction": fraction},
	})
}

// LogSink writes alerts to the structured log
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log-backed alert sink
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "alert_log").Logger()}
}

// Send writes the alert at a level matching its severity
func (s *LogSink) Send(ctx context.Context, alert Alert) error {
	var event *zerolog.Event
	switch alert.Severity {
	case SeverityCritical:
		event = s.log.Error()
	case SeverityWarning:
		event = s.log.Warn()
	default:
		event = s.log.Info()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}
	if alert.StrategyID != "" {
		event = event.Str("strategy_id", alert.StrategyID)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(alert.Message)

	return nil
}
