package domain

import (
	"errors"
	"fmt"
)

// State is the lifecycle status of a reminder.
type State string

const (
	StateDraft  State = "DRAFT"
	StateActive State = "ACTIVE"
	StatePaused State = "PAUSED"
	StateEnded  State = "ENDED"

	// StateRemoved is never sent by the server; it marks a deleted reminder.
	StateRemoved State = "REMOVED"
)

// Valid reports whether s is a status the server can return.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StateActive, StatePaused, StateEnded:
		return true
	}
	return false
}

// Event drives a lifecycle transition.
type Event string

const (
	EventAddSchedules       Event = "add_schedules"
	EventRemoveAllSchedules Event = "remove_all_schedules"
	EventPause              Event = "pause"
	EventActivate           Event = "activate"
	EventAllFired           Event = "all_fired"
	EventConvertToDraft     Event = "convert_to_draft"
	EventDelete             Event = "delete"
)

// ErrIllegalTransition is returned for an event the current state does not accept.
var ErrIllegalTransition = errors.New("illegal transition")

var transitions = map[State]map[Event]State{
	StateDraft: {
		EventAddSchedules: StateActive,
		EventAllFired:     StateEnded,
	},
	StateActive: {
		EventRemoveAllSchedules: StateDraft,
		EventPause:              StatePaused,
		EventAllFired:           StateEnded,
	},
	StatePaused: {
		EventActivate: StateActive,
	},
	StateEnded: {
		EventConvertToDraft: StateDraft,
		EventAddSchedules:   StateActive,
	},
}

// Transition returns the state reached from `from` on ev.
func Transition(from State, ev Event) (State, error) {
	if ev == EventDelete && from != StateRemoved {
		return StateRemoved, nil
	}
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
}

// CanEdit reports whether text and schedules may be changed. Only paused
// reminders are locked.
func CanEdit(s State) bool {
	return s != StatePaused && s != StateRemoved
}

func CanPause(s State) bool          { return s == StateActive }
func CanActivate(s State) bool       { return s == StatePaused }
func CanConvertToDraft(s State) bool { return s == StateEnded }

// ActionType names a user-facing operation on a reminder.
type ActionType string

const (
	ActionEdit           ActionType = "edit"
	ActionPause          ActionType = "pause"
	ActionActivate       ActionType = "activate"
	ActionConvertToDraft ActionType = "convertToDraft"
	ActionDelete         ActionType = "delete"
)

// Action is a button offered for a reminder.
type Action struct {
	Type    ActionType
	Label   string // message key
	Variant string // "", "primary", "secondary" or "danger"
}

// Actions lists the operations offered in state s, in display order.
func Actions(s State) []Action {
	edit := Action{Type: ActionEdit, Label: "common.edit"}
	del := Action{Type: ActionDelete, Label: "common.delete", Variant: "danger"}
	switch s {
	case StateDraft:
		return []Action{edit, del}
	case StateEnded:
		return []Action{edit, {Type: ActionConvertToDraft, Label: "common.convertToDraft", Variant: "secondary"}, del}
	case StateActive:
		return []Action{edit, {Type: ActionPause, Label: "common.pause", Variant: "secondary"}, del}
	case StatePaused:
		return []Action{{Type: ActionActivate, Label: "common.activate", Variant: "primary"}, del}
	}
	return nil
}

// StateAfterEdit predicts the state an edit leads to. remaining is the number
// of kept schedules and added the number of new ones. Editing an ended
// reminder drops its expired schedules, so it ends up Active with new
// schedules and Draft without.
func StateAfterEdit(current State, remaining, added int) (State, error) {
	switch current {
	case StateEnded:
		if added > 0 {
			return Transition(current, EventAddSchedules)
		}
		return Transition(current, EventConvertToDraft)
	case StateActive:
		if remaining+added == 0 {
			return Transition(current, EventRemoveAllSchedules)
		}
		return StateActive, nil
	case StateDraft:
		if added > 0 {
			return Transition(current, EventAddSchedules)
		}
		return StateDraft, nil
	}
	return current, fmt.Errorf("%w: edit on %s", ErrIllegalTransition, current)
}
