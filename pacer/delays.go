package pacer

import (
	"math/rand"
	"time"
)

// DelayRange is a uniform random interval.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

func (r DelayRange) Sample(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)))
}

// Delays holds every suspension interval of the scheduler. The per-item,
// per-target and per-cycle scales deliberately overlap so that action
// timestamps never settle into a simple periodic signal.
type Delays struct {
	// Item applies between candidate items within one target's feed.
	Item DelayRange
	// AfterLike and AfterReply apply right after a successful action.
	AfterLike  DelayRange
	AfterReply DelayRange
	// Target applies between target accounts within a cycle.
	Target DelayRange
	// Cycle applies between full passes over the target list.
	Cycle DelayRange
	// CeilingBackoff applies when a short-term ceiling defers a target.
	CeilingBackoff DelayRange
	// FetchBackoff applies after a failed timeline fetch.
	FetchBackoff time.Duration
	// GoalsMet applies when both daily goals are already reached.
	GoalsMet time.Duration
	// Recovery applies after an unexpected error escapes a cycle.
	Recovery time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		Item:           DelayRange{1500 * time.Millisecond, 3500 * time.Millisecond},
		AfterLike:      DelayRange{2 * time.Second, 6 * time.Second},
		AfterReply:     DelayRange{20 * time.Second, 120 * time.Second},
		Target:         DelayRange{5 * time.Second, 30 * time.Second},
		Cycle:          DelayRange{30 * time.Second, 5 * time.Minute},
		CeilingBackoff: DelayRange{5 * time.Minute, 10 * time.Minute},
		FetchBackoff:   5 * time.Second,
		GoalsMet:       30 * time.Minute,
		Recovery:       30 * time.Second,
	}
}
