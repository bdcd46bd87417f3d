package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name      string
		from, to  PlayState
		condition string
		want      bool
	}{
		{"entry fires", StateNew, StatePendingOpening, ConditionEntryFires, true},
		{"entry filled", StatePendingOpening, StateOpen, ConditionOrderFilled, true},
		{"entry rejected restores", StatePendingOpening, StateNew, ConditionOrderRejected, true},
		{"entry day order lapses", StatePendingOpening, StateExpired, ConditionDayExpired, true},
		{"exit fires", StateOpen, StatePendingClosing, ConditionExitFires, true},
		{"exit filled", StatePendingClosing, StateClosed, ConditionOrderFilled, true},
		{"exit rejected restores", StatePendingClosing, StateOpen, ConditionOrderRejected, true},
		{"exit day order lapses restores", StatePendingClosing, StateOpen, ConditionDayExpired, true},
		{"option expires while open", StateOpen, StateExpired, ConditionOptionExpired, true},
		{"roll stays open", StateOpen, StateOpen, ConditionRollCompleted, true},
		{"roll abort closes", StateOpen, StateClosed, ConditionRollAborted, true},
		{"recover orphan entry fill", StateNew, StateOpen, ConditionRecovered, true},
		{"recover orphan entry lapse", StateNew, StateExpired, ConditionRecovered, true},
		{"recover orphan exit fill", StateOpen, StateClosed, ConditionRecovered, true},

		{"skip pending opening", StateNew, StateOpen, ConditionEntryFires, false},
		{"closed is terminal", StateClosed, StateOpen, ConditionOrderFilled, false},
		{"expired is terminal", StateExpired, StateNew, ConditionOrderRejected, false},
		{"wrong condition on legal edge", StateNew, StatePendingOpening, ConditionOrderFilled, false},
		{"backwards from open", StateOpen, StateNew, ConditionOrderRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.condition))
		})
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, tr := range ValidTransitions {
		assert.False(t, tr.From.Terminal(),
			"edge %s -> %s leaves terminal state", tr.From, tr.To)
	}
}

func TestPlayTransition(t *testing.T) {
	p := &Play{ID: "p1", State: StateNew}

	require.NoError(t, p.Transition(StatePendingOpening, ConditionEntryFires))
	assert.Equal(t, StatePendingOpening, p.State)

	err := p.Transition(StateClosed, ConditionOrderFilled)
	require.Error(t, err)
	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "p1", tErr.PlayID)
	assert.Equal(t, StatePendingOpening, p.State, "failed transition must not change state")
	assert.Contains(t, err.Error(), "invalid transition")
}

func TestAllStatesValid(t *testing.T) {
	for _, s := range AllStates {
		assert.True(t, s.Valid())
	}
	assert.False(t, PlayState("limbo").Valid())
}
