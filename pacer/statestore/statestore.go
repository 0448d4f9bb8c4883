// Package statestore persists the pacing engine's durable state: which items
// have already been acted on, how many actions happened today, and a trailing
// log of action timestamps for short-window rate queries.
//
// The on-disk format is a single JSON document, written whole via atomic
// replace. The engine is single-threaded, so no locking is done here.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type ActionKind string

const (
	ActionReply = ActionKind("reply")
	ActionLike  = ActionKind("like")
)

// LogEntry is one row of the trailing action-window log.
type LogEntry struct {
	Time  time.Time  `json:"ts"`
	Kind  ActionKind `json:"kind"`
	Count int        `json:"count"`
}

// retention horizon for action-window log entries
const logRetention = 24 * time.Hour

// PersistentState is the single mutable record the whole process operates on.
// It is loaded once at startup and saved after every committed decision.
//
// Processed-id sets map item identifier to the time the action was recorded,
// which lets rollover prune ancient ids instead of growing without bound.
type PersistentState struct {
	RepliedIDs   map[string]time.Time `json:"replied_ids"`
	LikedIDs     map[string]time.Time `json:"liked_ids"`
	DayStart     time.Time            `json:"day_start"`
	DailyReplies int                  `json:"daily_replies"`
	DailyLikes   int                  `json:"daily_likes"`
	ActionLog    []LogEntry           `json:"action_log"`
}

func NewState(now time.Time) *PersistentState {
	return &PersistentState{
		RepliedIDs: make(map[string]time.Time),
		LikedIDs:   make(map[string]time.Time),
		DayStart:   now.UTC(),
	}
}

func (s *PersistentState) ids(kind ActionKind) map[string]time.Time {
	if kind == ActionReply {
		return s.RepliedIDs
	}
	return s.LikedIDs
}

// Processed reports whether the given item id has already received the given
// action kind. This is the authoritative dedup check.
func (s *PersistentState) Processed(kind ActionKind, id string) bool {
	_, ok := s.ids(kind)[id]
	return ok
}

// MarkProcessed adds an id to the per-kind dedup set. Adding an id twice is a
// no-op; the recorded-at time of the first action wins.
func (s *PersistentState) MarkProcessed(kind ActionKind, id string, now time.Time) {
	set := s.ids(kind)
	if _, ok := set[id]; ok {
		return
	}
	set[id] = now.UTC()
}

func (s *PersistentState) DailyCount(kind ActionKind) int {
	if kind == ActionReply {
		return s.DailyReplies
	}
	return s.DailyLikes
}

func (s *PersistentState) IncrementDaily(kind ActionKind) {
	if kind == ActionReply {
		s.DailyReplies++
	} else {
		s.DailyLikes++
	}
}

// RecordAction appends an entry to the action-window log and prunes entries
// past the 24h retention horizon. The caller is responsible for persisting.
func (s *PersistentState) RecordAction(kind ActionKind, count int, now time.Time) {
	now = now.UTC()
	s.ActionLog = append(s.ActionLog, LogEntry{Time: now, Kind: kind, Count: count})
	cutoff := now.Add(-logRetention)
	kept := s.ActionLog[:0]
	for _, ent := range s.ActionLog {
		if ent.Time.After(cutoff) {
			kept = append(kept, ent)
		}
	}
	s.ActionLog = kept
}

// WindowSum totals the logged counts for a kind within the trailing window
// ending at now. An empty or missing log sums to zero.
func (s *PersistentState) WindowSum(kind ActionKind, window time.Duration, now time.Time) int {
	cutoff := now.UTC().Add(-window)
	total := 0
	for _, ent := range s.ActionLog {
		if ent.Kind == kind && !ent.Time.Before(cutoff) {
			total += ent.Count
		}
	}
	return total
}

// RolloverDue reports whether the current UTC calendar date differs from the
// date DayStart was set on.
func (s *PersistentState) RolloverDue(now time.Time) bool {
	y1, m1, d1 := s.DayStart.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// Rollover zeroes the daily counters, clears the action log, prunes
// processed-id entries older than idRetention, and starts a new counting day.
func (s *PersistentState) Rollover(now time.Time, idRetention time.Duration) {
	now = now.UTC()
	s.DailyReplies = 0
	s.DailyLikes = 0
	s.ActionLog = nil
	s.DayStart = now
	if idRetention <= 0 {
		return
	}
	cutoff := now.Add(-idRetention)
	for _, set := range []map[string]time.Time{s.RepliedIDs, s.LikedIDs} {
		for id, at := range set {
			if at.Before(cutoff) {
				delete(set, id)
			}
		}
	}
}

// IOError wraps a storage read/write failure. Continuing with stale or
// unpersisted state risks duplicate actions, so callers must treat these as
// fatal to the operation attempting them.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("state %s failed: %s", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store is the durable home of a PersistentState.
type Store interface {
	Load() (*PersistentState, error)
	Save(*PersistentState) error
}

// FileStore keeps state in a single JSON file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the state file, returning a fresh empty state when the file does
// not exist yet.
func (s *FileStore) Load() (*PersistentState, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(time.Now()), nil
	} else if err != nil {
		return nil, &IOError{Op: "read", Err: err}
	}
	state := NewState(time.Now())
	if err := json.Unmarshal(b, state); err != nil {
		return nil, &IOError{Op: "parse", Err: err}
	}
	if state.RepliedIDs == nil {
		state.RepliedIDs = make(map[string]time.Time)
	}
	if state.LikedIDs == nil {
		state.LikedIDs = make(map[string]time.Time)
	}
	return state, nil
}

// Save persists the full state with a write-to-temp-then-rename so a crash
// mid-write never leaves a truncated file behind.
func (s *FileStore) Save(state *PersistentState) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Err: err}
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return &IOError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "replace", Err: err}
	}
	return nil
}

// MemStore holds state in memory, for tests.
type MemStore struct {
	State *PersistentState
	Saves int
	Fail  error
}

func NewMemStore(now time.Time) *MemStore {
	return &MemStore{State: NewState(now)}
}

func (m *MemStore) Load() (*PersistentState, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	return m.State, nil
}

func (m *MemStore) Save(state *PersistentState) error {
	if m.Fail != nil {
		return m.Fail
	}
	m.State = state
	m.Saves++
	return nil
}

// RolloverIfNewDay resets the daily counters and action log when the UTC date
// has changed since DayStart, persisting immediately. Calling it again within
// the same day is a no-op.
func RolloverIfNewDay(store Store, state *PersistentState, now time.Time, idRetention time.Duration) (bool, error) {
	if !state.RolloverDue(now) {
		return false, nil
	}
	state.Rollover(now, idRetention)
	if err := store.Save(state); err != nil {
		return false, err
	}
	return true, nil
}
