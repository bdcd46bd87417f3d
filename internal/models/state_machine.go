// Package models provides the play schema and state management for the
// trading engine. A play is a single declarative trade: entry criteria,
// exit criteria, and the lifecycle state that moves it from authored to
// terminal.
package models

import "fmt"

// PlayState represents the lifecycle state of a play. The state names double
// as the on-disk directory names in the play store.
type PlayState string

const (
	// StateNew is an authored play waiting for its entry conditions.
	StateNew PlayState = "new"
	// StatePendingOpening has an entry order working at the broker.
	StatePendingOpening PlayState = "pending-opening"
	// StateOpen holds a filled position being managed for exit.
	StateOpen PlayState = "open"
	// StatePendingClosing has an exit order working at the broker.
	StatePendingClosing PlayState = "pending-closing"
	// StateClosed is terminal: the position was closed by an exit fill.
	StateClosed PlayState = "closed"
	// StateExpired is terminal: the option or the entry day order expired.
	StateExpired PlayState = "expired"
)

// AllStates lists every lifecycle state in directory order.
var AllStates = []PlayState{
	StateNew, StatePendingOpening, StateOpen,
	StatePendingClosing, StateClosed, StateExpired,
}

// Valid reports whether s is a defined lifecycle state.
func (s PlayState) Valid() bool {
	switch s {
	case StateNew, StatePendingOpening, StateOpen, StatePendingClosing, StateClosed, StateExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether a play in this state may never act again.
func (s PlayState) Terminal() bool {
	return s == StateClosed || s == StateExpired
}

// Transition conditions. Every state change carries the condition that
// caused it so the audit trail explains itself.
const (
	ConditionEntryFires    = "entry_fires"
	ConditionOrderFilled   = "order_filled"
	ConditionOrderRejected = "order_rejected"
	ConditionDayExpired    = "day_expired"
	ConditionExitFires     = "exit_fires"
	ConditionOptionExpired = "option_expired"
	ConditionRollCompleted = "roll_completed"
	ConditionRollAborted   = "roll_aborted"
	ConditionRecovered     = "recovered"
)

// StateTransition defines a single legal edge in the play lifecycle.
type StateTransition struct {
	From        PlayState
	To          PlayState
	Condition   string
	Description string
}

// ValidTransitions is the complete lifecycle. Anything not listed here is an
// error, never a silent no-op.
var ValidTransitions = []StateTransition{
	{StateNew, StatePendingOpening, ConditionEntryFires, "Entry conditions met, order submitted"},
	{StatePendingOpening, StateOpen, ConditionOrderFilled, "Entry order filled"},
	{StatePendingOpening, StateNew, ConditionOrderRejected, "Entry order rejected, play restored"},
	{StatePendingOpening, StateExpired, ConditionDayExpired, "Entry day order expired unfilled"},
	{StateOpen, StatePendingClosing, ConditionExitFires, "Exit conditions met, order submitted"},
	{StateOpen, StateExpired, ConditionOptionExpired, "Option expired while position open"},
	{StatePendingClosing, StateClosed, ConditionOrderFilled, "Exit order filled"},
	{StatePendingClosing, StateOpen, ConditionOrderRejected, "Exit order rejected, play restored"},
	{StatePendingClosing, StateOpen, ConditionDayExpired, "Exit day order expired unfilled, position still open"},
	{StateOpen, StateOpen, ConditionRollCompleted, "Rolled to new contract, same lifecycle state"},
	{StateOpen, StateClosed, ConditionRollAborted, "Roll closed the old contract but could not open the new one"},

	// Recovery edges used by the orphan-order reconciler after a crash
	// between submit and transition: the play is still in its pre-submit
	// state but the broker already knows about the order.
	{StateNew, StateOpen, ConditionRecovered, "Orphan entry order found filled at broker"},
	{StateNew, StateExpired, ConditionRecovered, "Orphan entry day order found expired at broker"},
	{StateOpen, StateClosed, ConditionRecovered, "Orphan exit order found filled at broker"},
}

// CanTransition reports whether moving from one state to another under the
// given condition is legal.
func CanTransition(from, to PlayState, condition string) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to && t.Condition == condition {
			return true
		}
	}
	return false
}

// TransitionError is returned when a lifecycle edge is not permitted.
type TransitionError struct {
	PlayID    string
	From      PlayState
	To        PlayState
	Condition string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("play %s: invalid transition %s -> %s (condition %q)",
		e.PlayID, e.From, e.To, e.Condition)
}
