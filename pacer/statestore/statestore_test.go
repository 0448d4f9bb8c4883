package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreFreshState(t *testing.T) {
	assert := assert.New(t)

	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	state, err := fs.Load()
	require.NoError(t, err)

	assert.Empty(state.RepliedIDs)
	assert.Empty(state.LikedIDs)
	assert.Empty(state.ActionLog)
	assert.Equal(0, state.DailyReplies)
	assert.Equal(0, state.DailyLikes)
	assert.WithinDuration(time.Now().UTC(), state.DayStart, time.Minute)
}

func TestFileStoreRoundTrip(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	fs := NewFileStore(path)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := NewState(now)
	state.MarkProcessed(ActionReply, "at://did:plc:abc/app.bsky.feed.post/1", now)
	state.MarkProcessed(ActionLike, "at://did:plc:abc/app.bsky.feed.post/2", now)
	state.IncrementDaily(ActionReply)
	state.IncrementDaily(ActionLike)
	state.RecordAction(ActionReply, 1, now)
	state.RecordAction(ActionLike, 1, now.Add(time.Minute))

	require.NoError(t, fs.Save(state))

	loaded, err := fs.Load()
	require.NoError(t, err)
	assert.Equal(state.RepliedIDs, loaded.RepliedIDs)
	assert.Equal(state.LikedIDs, loaded.LikedIDs)
	assert.Equal(state.DailyReplies, loaded.DailyReplies)
	assert.Equal(state.DailyLikes, loaded.DailyLikes)
	assert.True(state.DayStart.Equal(loaded.DayStart))
	require.Len(t, loaded.ActionLog, 2)
	assert.Equal(ActionReply, loaded.ActionLog[0].Kind)
	assert.True(loaded.ActionLog[0].Time.Equal(now))
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	fs := NewFileStore(filepath.Join(dir, "state.json"))
	state := NewState(time.Now())

	require.NoError(t, fs.Save(state))
	state.IncrementDaily(ActionLike)
	require.NoError(t, fs.Save(state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal("state.json", entries[0].Name())
}

func TestMarkProcessedNoDuplicates(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := NewState(now)
	state.MarkProcessed(ActionReply, "id1", now)
	state.MarkProcessed(ActionReply, "id1", now.Add(time.Hour))

	assert.Len(state.RepliedIDs, 1)
	assert.True(state.RepliedIDs["id1"].Equal(now))
	assert.True(state.Processed(ActionReply, "id1"))
	assert.False(state.Processed(ActionLike, "id1"))
}

func TestRecordActionPrunesOldEntries(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := NewState(now)
	state.RecordAction(ActionReply, 1, now.Add(-25*time.Hour))
	state.RecordAction(ActionReply, 1, now.Add(-2*time.Hour))
	state.RecordAction(ActionLike, 1, now)

	assert.Len(state.ActionLog, 2)
	for _, ent := range state.ActionLog {
		assert.True(ent.Time.After(now.Add(-24 * time.Hour)))
	}
}

func TestWindowSum(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := NewState(now)
	state.RecordAction(ActionReply, 3, now.Add(-20*time.Minute))
	state.RecordAction(ActionReply, 2, now.Add(-10*time.Minute))
	state.RecordAction(ActionLike, 5, now.Add(-5*time.Minute))
	state.RecordAction(ActionReply, 1, now)

	assert.Equal(3, state.WindowSum(ActionReply, 15*time.Minute, now))
	assert.Equal(5, state.WindowSum(ActionLike, 15*time.Minute, now))
	assert.Equal(6, state.WindowSum(ActionReply, time.Hour, now))
	assert.Equal(0, state.WindowSum(ActionLike, time.Minute, now))
}

func TestRolloverIfNewDay(t *testing.T) {
	assert := assert.New(t)

	dayStart := time.Date(2024, 5, 9, 23, 59, 0, 0, time.UTC)
	now := time.Date(2024, 5, 10, 0, 1, 0, 0, time.UTC)

	store := NewMemStore(dayStart)
	state := store.State
	state.DayStart = dayStart
	state.DailyReplies = 42
	state.DailyLikes = 17
	state.RecordAction(ActionReply, 1, dayStart)

	rolled, err := RolloverIfNewDay(store, state, now, 0)
	require.NoError(t, err)
	assert.True(rolled)
	assert.Equal(0, state.DailyReplies)
	assert.Equal(0, state.DailyLikes)
	assert.Empty(state.ActionLog)
	assert.True(state.DayStart.Equal(now))
	assert.Equal(1, store.Saves)

	// second call within the same day is a no-op
	rolled, err = RolloverIfNewDay(store, state, now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.False(rolled)
	assert.Equal(0, state.DailyReplies)
	assert.Equal(1, store.Saves)
	assert.True(state.DayStart.Equal(now))
}

func TestRolloverPrunesOldIDs(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 0, 1, 0, 0, time.UTC)
	state := NewState(now.Add(-48 * time.Hour))
	state.MarkProcessed(ActionReply, "ancient", now.Add(-40*24*time.Hour))
	state.MarkProcessed(ActionReply, "recent", now.Add(-time.Hour))
	state.MarkProcessed(ActionLike, "ancient", now.Add(-40*24*time.Hour))

	state.Rollover(now, 30*24*time.Hour)

	assert.False(state.Processed(ActionReply, "ancient"))
	assert.True(state.Processed(ActionReply, "recent"))
	assert.False(state.Processed(ActionLike, "ancient"))
}
