package pacer

import (
	"testing"
	"time"

	"github.com/larkbot/larkbot/pacer/statestore"

	"github.com/stretchr/testify/assert"
)

func TestGovernorEmptyLogAllows(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := statestore.NewState(now)
	gov := Governor{Ceilings: DefaultCeilings()}

	assert.True(gov.Allowed(state, statestore.ActionReply, now))
	assert.True(gov.Allowed(state, statestore.ActionLike, now))
}

func TestGovernorCeilingBoundary(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := statestore.NewState(now)
	gov := Governor{Ceilings: DefaultCeilings()}

	// 50 single-count reply entries within the last 10 minutes
	for i := 0; i < 50; i++ {
		state.RecordAction(statestore.ActionReply, 1, now.Add(-time.Duration(i)*10*time.Second))
	}
	assert.False(gov.Allowed(state, statestore.ActionReply, now))
	// likes are governed independently
	assert.True(gov.Allowed(state, statestore.ActionLike, now))

	// one under the ceiling allows again
	state.ActionLog = state.ActionLog[:49]
	assert.True(gov.Allowed(state, statestore.ActionReply, now))
}

func TestGovernorIgnoresEntriesOutsideWindow(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := statestore.NewState(now)
	gov := Governor{Ceilings: Ceilings{Window: 15 * time.Minute, Reply: 2, Like: 2}}

	state.RecordAction(statestore.ActionReply, 2, now.Add(-16*time.Minute))
	assert.True(gov.Allowed(state, statestore.ActionReply, now))

	state.RecordAction(statestore.ActionReply, 2, now.Add(-time.Minute))
	assert.False(gov.Allowed(state, statestore.ActionReply, now))
}
