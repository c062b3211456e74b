package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"action":"hold"}`,
			want:  `{"action":"hold"}`,
		},
		{
			name:  "markdown fenced",
			input: "Here is my decision:\n```json\n{\"action\":\"hold\"}\n```\nGood luck.",
			want:  `{"action":"hold"}`,
		},
		{
			name:  "nested objects",
			input: `prefix {"a":{"b":1},"c":2} suffix {"second":true}`,
			want:  `{"a":{"b":1},"c":2}`,
		},
		{
			name:  "braces inside strings",
			input: `{"rationale":"breakout above {resistance}","action":"hold"}`,
			want:  `{"rationale":"breakout above {resistance}","action":"hold"}`,
		},
		{
			name:  "escaped quotes inside strings",
			input: `{"rationale":"he said \"sell\"","action":"hold"}`,
			want:  `{"rationale":"he said \"sell\"","action":"hold"}`,
		},
		{
			name:    "no object",
			input:   "I cannot decide right now.",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			input:   `{"action":"hold"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func validLongEntry() string {
	return `{
		"symbol": "rb2501",
		"action": "buy_to_enter",
		"quantity": 2,
		"leverage": 5,
		"entry_price": 3500,
		"profit_target": 3600,
		"stop_loss": 3450,
		"confidence": 0.75,
		"opportunity_score": 80,
		"rationale": "trend up",
		"market_regime": "trending_up",
		"invalidation_condition": "close below 3450"
	}`
}

func TestParseDecisionValid(t *testing.T) {
	w, err := parseDecision(validLongEntry(), "rb2501")
	require.NoError(t, err)
	assert.Equal(t, "buy_to_enter", w.Action)
	assert.Equal(t, 2.0, w.Quantity)

	d := fromWire(w, SourceLLM)
	assert.Equal(t, ActionBuyToEnter, d.Action)
	assert.Equal(t, 2, d.Quantity)
	assert.Equal(t, 5, d.Leverage)
	assert.Equal(t, SourceLLM, d.Source)
}

func TestParseDecisionFillsMissingSymbol(t *testing.T) {
	w, err := parseDecision(`{"action":"hold","confidence":0.5}`, "rb2501")
	require.NoError(t, err)
	assert.Equal(t, "rb2501", w.Symbol)
}

func TestParseDecisionRejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "unknown action",
			input: `{"symbol":"rb2501","action":"yolo"}`,
			want:  "action",
		},
		{
			name:  "wrong symbol",
			input: `{"symbol":"cu2502","action":"hold"}`,
			want:  "symbol",
		},
		{
			name:  "confidence out of range",
			input: `{"symbol":"rb2501","action":"hold","confidence":1.5}`,
			want:  "confidence",
		},
		{
			name:  "opportunity out of range",
			input: `{"symbol":"rb2501","action":"hold","opportunity_score":250}`,
			want:  "opportunity_score",
		},
		{
			name:  "negative quantity",
			input: `{"symbol":"rb2501","action":"hold","quantity":-1}`,
			want:  "quantity",
		},
		{
			name:  "leverage out of range",
			input: `{"symbol":"rb2501","action":"buy_to_enter","quantity":1,"leverage":50,"entry_price":3500,"stop_loss":3450,"confidence":0.5}`,
			want:  "leverage",
		},
		{
			name:  "stop on wrong side of long",
			input: `{"symbol":"rb2501","action":"buy_to_enter","quantity":1,"leverage":5,"entry_price":3500,"stop_loss":3550,"confidence":0.5}`,
			want:  "stop_loss",
		},
		{
			name:  "stop on wrong side of short",
			input: `{"symbol":"rb2501","action":"sell_to_enter","quantity":1,"leverage":5,"entry_price":3500,"stop_loss":3450,"confidence":0.5}`,
			want:  "stop_loss",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDecision(tt.input, "rb2501")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromWireClampsNaN(t *testing.T) {
	w := &decisionWire{Symbol: "rb2501", Action: "hold"}
	d := fromWire(w, SourceFallback)
	assert.GreaterOrEqual(t, d.Confidence, 0.0)
	assert.LessOrEqual(t, d.Confidence, 1.0)
	assert.GreaterOrEqual(t, d.Leverage, 1)
}
