package pacer

import (
	"math/rand"

	"github.com/larkbot/larkbot/pacer/statestore"
)

// Goals are the per-UTC-day action targets.
type Goals struct {
	Replies int
	Likes   int
}

// DecisionConfig tunes the probabilistic layer of the decision engine.
//
// Probabilities scale with the remaining daily quota relative to the expected
// number of opportunities left (targets × sample size), capped at MaxProb so
// behavior stays random even when quota is abundant.
type DecisionConfig struct {
	Goals       Goals
	TargetCount int
	// SampleSize is how many items are fetched per target per cycle.
	SampleSize    int
	BaseReplyProb float64
	BaseLikeProb  float64
	MaxProb       float64
}

func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		Goals:         Goals{Replies: 200, Likes: 100},
		SampleSize:    5,
		BaseReplyProb: 0.6,
		BaseLikeProb:  0.5,
		MaxProb:       0.9,
	}
}

// Outcome is the decision for a single item. The two kinds are independent; a
// single item may receive both actions.
type Outcome struct {
	DoReply bool
	DoLike  bool
}

func (c DecisionConfig) prob(base float64, left int) float64 {
	denom := c.TargetCount * c.SampleSize
	if denom < 1 {
		denom = 1
	}
	p := base * float64(left) / float64(denom)
	if p > c.MaxProb {
		p = c.MaxProb
	}
	return p
}

// Decide samples an outcome for one eligible item.
//
// The draws happen unconditionally; dedup against the processed-id sets is
// applied afterwards and is authoritative. The probabilistic gate only adds
// temporal variance, it is never the safety mechanism: goal and ceiling
// checks stay deterministic in the scheduler.
func Decide(rng *rand.Rand, item *CandidateItem, state *statestore.PersistentState, cfg DecisionConfig) Outcome {
	repliesLeft := cfg.Goals.Replies - state.DailyReplies
	if repliesLeft < 0 {
		repliesLeft = 0
	}
	likesLeft := cfg.Goals.Likes - state.DailyLikes
	if likesLeft < 0 {
		likesLeft = 0
	}

	out := Outcome{
		DoReply: rng.Float64() < cfg.prob(cfg.BaseReplyProb, repliesLeft),
		DoLike:  rng.Float64() < cfg.prob(cfg.BaseLikeProb, likesLeft),
	}

	if state.Processed(statestore.ActionReply, item.ID) {
		out.DoReply = false
	}
	if state.Processed(statestore.ActionLike, item.ID) {
		out.DoLike = false
	}
	return out
}
