package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateInitializing, StateIdle, true},
		{StateInitializing, StateThinking, false},
		{StateIdle, StateThinking, true},
		{StateIdle, StateOrdering, false},
		{StateThinking, StateOrdering, true},
		{StateThinking, StateIdle, true},
		{StateOrdering, StateIdle, true},
		{StateOrdering, StateThinking, false},
		{StatePaused, StateIdle, true},
		{StatePaused, StateThinking, false},
		{StateHalted, StateIdle, true},
		{StateHalted, StateTerminated, true},
		{StateTerminated, StateIdle, false},
		{StateTerminated, StateHalted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPausedReachableFromAllNonTerminalStates(t *testing.T) {
	for _, from := range []State{StateInitializing, StateIdle, StateThinking, StateOrdering} {
		assert.True(t, from.CanTransition(StatePaused), "from %s", from)
		assert.True(t, from.CanTransition(StateHalted), "from %s", from)
	}
}

func TestTradingStates(t *testing.T) {
	assert.True(t, StateIdle.Trading())
	assert.True(t, StateThinking.Trading())
	assert.True(t, StateOrdering.Trading())
	assert.False(t, StatePaused.Trading())
	assert.False(t, StateHalted.Trading())
	assert.False(t, StateTerminated.Trading())
}

func TestTerminalState(t *testing.T) {
	assert.True(t, StateTerminated.Terminal())
	assert.False(t, StateHalted.Terminal())
}
