package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
	}{
		{StateDraft, EventAddSchedules, StateActive},
		{StateActive, EventRemoveAllSchedules, StateDraft},
		{StateActive, EventPause, StatePaused},
		{StatePaused, EventActivate, StateActive},
		{StateActive, EventAllFired, StateEnded},
		{StateDraft, EventAllFired, StateEnded},
		{StateEnded, EventConvertToDraft, StateDraft},
		{StateEnded, EventAddSchedules, StateActive},
		{StateDraft, EventDelete, StateRemoved},
		{StateActive, EventDelete, StateRemoved},
		{StatePaused, EventDelete, StateRemoved},
		{StateEnded, EventDelete, StateRemoved},
	}
	for _, tt := range tests {
		got, err := Transition(tt.from, tt.ev)
		require.NoError(t, err, "%s on %s", tt.ev, tt.from)
		assert.Equal(t, tt.want, got, "%s on %s", tt.ev, tt.from)
	}
}

func TestTransition_Illegal(t *testing.T) {
	illegal := []struct {
		from State
		ev   Event
	}{
		{StateDraft, EventPause},
		{StateDraft, EventActivate},
		{StateActive, EventActivate},
		{StateActive, EventConvertToDraft},
		{StatePaused, EventPause},
		{StatePaused, EventAddSchedules},
		{StatePaused, EventAllFired},
		{StateEnded, EventPause},
		{StateEnded, EventActivate},
		{StateRemoved, EventDelete},
		{StateRemoved, EventActivate},
	}
	for _, tt := range illegal {
		got, err := Transition(tt.from, tt.ev)
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s on %s", tt.ev, tt.from)
		assert.Equal(t, tt.from, got)
	}
}

func TestPermissions(t *testing.T) {
	assert.True(t, CanEdit(StateDraft))
	assert.True(t, CanEdit(StateActive))
	assert.True(t, CanEdit(StateEnded))
	assert.False(t, CanEdit(StatePaused))

	assert.True(t, CanPause(StateActive))
	assert.False(t, CanPause(StatePaused))
	assert.True(t, CanActivate(StatePaused))
	assert.False(t, CanActivate(StateActive))
	assert.True(t, CanConvertToDraft(StateEnded))
	assert.False(t, CanConvertToDraft(StateDraft))
}

func TestActions(t *testing.T) {
	types := func(s State) []ActionType {
		var out []ActionType
		for _, a := range Actions(s) {
			out = append(out, a.Type)
		}
		return out
	}
	assert.Equal(t, []ActionType{ActionEdit, ActionDelete}, types(StateDraft))
	assert.Equal(t, []ActionType{ActionEdit, ActionPause, ActionDelete}, types(StateActive))
	assert.Equal(t, []ActionType{ActionActivate, ActionDelete}, types(StatePaused))
	assert.Equal(t, []ActionType{ActionEdit, ActionConvertToDraft, ActionDelete}, types(StateEnded))
	assert.Empty(t, types(StateRemoved))
}

func TestStateAfterEdit(t *testing.T) {
	tests := []struct {
		name             string
		from             State
		remaining, added int
		want             State
	}{
		{"draft gets schedules", StateDraft, 0, 2, StateActive},
		{"draft text only", StateDraft, 0, 0, StateDraft},
		{"active loses all schedules", StateActive, 0, 0, StateDraft},
		{"active keeps schedules", StateActive, 1, 0, StateActive},
		{"ended without new schedules", StateEnded, 0, 0, StateDraft},
		{"ended with new schedules", StateEnded, 0, 1, StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StateAfterEdit(tt.from, tt.remaining, tt.added)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := StateAfterEdit(StatePaused, 1, 1)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}
