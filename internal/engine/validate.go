package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var errNoJSON = errors.New("no JSON object found in reply")

// decisionWire is the lenient shape we accept from the model. Numeric
// fields arrive as floats and are coerced during validation.
type decisionWire struct {
	Symbol                string  `json:"symbol"`
	Action                string  `json:"action"`
	Quantity              float64 `json:"quantity"`
	Leverage              float64 `json:"leverage"`
	EntryPrice            float64 `json:"entry_price"`
	ProfitTarget          float64 `json:"profit_target"`
	StopLoss              float64 `json:"stop_loss"`
	Confidence            float64 `json:"confidence"`
	OpportunityScore      float64 `json:"opportunity_score"`
	Rationale             string  `json:"rationale"`
	MarketRegime          string  `json:"market_regime"`
	InvalidationCondition string  `json:"invalidation_condition"`
}

// extractJSON returns the first balanced top-level JSON object in s.
// Models wrap replies in prose or markdown fences often enough that a
// plain Unmarshal of the whole reply is a losing strategy.
func extractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errNoJSON
}

// parseDecision extracts and validates the model reply. The returned
// error is fed back verbatim in the repair prompt, so messages name the
// offending field.
func parseDecision(raw, expectedSymbol string) (*decisionWire, error) {
	text, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var w decisionWire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validateWire(&w, expectedSymbol); err != nil {
		return nil, err
	}
	return &w, nil
}

func validateWire(w *decisionWire, expectedSymbol string) error {
	action := Action(w.Action)
	if !action.Valid() {
		return fmt.Errorf("action %q is not one of buy_to_enter, sell_to_enter, close, hold", w.Action)
	}
	if w.Symbol == "" {
		w.Symbol = expectedSymbol
	}
	if w.Symbol != expectedSymbol {
		return fmt.Errorf("symbol %q does not match the requested contract %q", w.Symbol, expectedSymbol)
	}
	if w.Confidence < 0 || w.Confidence > 1 {
		return fmt.Errorf("confidence %.4f is outside [0, 1]", w.Confidence)
	}
	if w.OpportunityScore < 0 || w.OpportunityScore > 100 {
		return fmt.Errorf("opportunity_score %.2f is outside [0, 100]", w.OpportunityScore)
	}
	if w.Quantity < 0 {
		return fmt.Errorf("quantity %.2f is negative", w.Quantity)
	}

	if action.IsEntry() {
		if w.Leverage < 1 || w.Leverage > 20 {
			return fmt.Errorf("leverage %.1f is outside [1, 20]", w.Leverage)
		}
		if w.EntryPrice <= 0 {
			return fmt.Errorf("entry_price %.2f must be positive for an entry", w.EntryPrice)
		}
		if w.StopLoss <= 0 {
			return fmt.Errorf("stop_loss %.2f must be positive for an entry", w.StopLoss)
		}
		// Stop must sit on the loss side of the entry.
		if action == ActionBuyToEnter && w.StopLoss >= w.EntryPrice {
			return fmt.Errorf("stop_loss %.2f must be below entry_price %.2f for a long entry", w.StopLoss, w.EntryPrice)
		}
		if action == ActionSellToEnter && w.StopLoss <= w.EntryPrice {
			return fmt.Errorf("stop_loss %.2f must be above entry_price %.2f for a short entry", w.StopLoss, w.EntryPrice)
		}
	}
	return nil
}

// fromWire builds the typed decision from a validated wire value.
// Clamping here is belt and braces; validation already rejected
// out-of-range values.
func fromWire(w *decisionWire, source Source) Decision {
	return Decision{
		Symbol:                w.Symbol,
		Action:                Action(w.Action),
		Quantity:              int(math.Round(w.Quantity)),
		Leverage:              clampInt(int(math.Round(w.Leverage)), 1, 20),
		EntryPrice:            w.EntryPrice,
		ProfitTarget:          w.ProfitTarget,
		StopLoss:              w.StopLoss,
		Confidence:            clampFloat(w.Confidence, 0, 1),
		OpportunityScore:      clampFloat(w.OpportunityScore, 0, 100),
		Rationale:             w.Rationale,
		Source:                source,
		MarketRegime:          w.MarketRegime,
		InvalidationCondition: w.InvalidationCondition,
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
