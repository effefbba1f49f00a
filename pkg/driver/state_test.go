package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCanAdvance(t *testing.T) {
	tests := []struct {
		from State
		to   State
		ok   bool
	}{
		{StateIdle, StatePulled, true},
		{StateIdle, StateBuilt, true},
		{StateIdle, StateInstalled, true},
		{StatePulled, StateBuilt, true},
		{StatePulled, StateInstalled, true},
		{StatePulled, StatePulled, false},
		{StateBuilt, StateInstalled, true},
		{StateBuilt, StatePulled, false},
		{StatePulled, StateFailed, true},
		{StateInstalled, StateBuilt, false},
		{StateInstalled, StateFailed, false},
		{StateFailed, StateIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanAdvance(tt.to))
		})
	}
}

func TestTrackerFollowsInvocation(t *testing.T) {
	var tr Tracker
	require.Equal(t, StateIdle, tr.State())

	require.NoError(t, tr.Observe(&PhaseResult{Phase: PhasePull, State: StatePulled}))
	require.NoError(t, tr.Observe(&PhaseResult{Phase: PhaseBuild, State: StateBuilt}))
	require.NoError(t, tr.Observe(&PhaseResult{Phase: PhaseInstall, State: StateInstalled}))
	assert.True(t, tr.State().Terminal())

	err := tr.Observe(&PhaseResult{Phase: PhaseBuild, State: StateBuilt})
	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, StateInstalled, orderErr.From)
}

func TestTrackerIgnoresSkippedPhases(t *testing.T) {
	var tr Tracker
	require.NoError(t, tr.Observe(&PhaseResult{Phase: PhasePull, State: StateIdle, Skipped: true}))
	require.NoError(t, tr.Observe(&PhaseResult{Phase: PhaseBuild, State: StateInstalled}))
	require.NoError(t, tr.Observe(nil))
	assert.Equal(t, StateInstalled, tr.State())
}
