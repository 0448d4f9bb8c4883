package pacer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/larkbot/larkbot/pacer/statestore"

	"github.com/stretchr/testify/assert"
)

func decisionFixture() DecisionConfig {
	cfg := DefaultDecisionConfig()
	cfg.TargetCount = 10
	return cfg
}

func TestDecideZeroGoalDisablesKind(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := statestore.NewState(now)
	cfg := decisionFixture()
	cfg.Goals.Replies = 0

	rng := rand.New(rand.NewSource(1))
	item := &CandidateItem{ID: "at://did:plc:abc/app.bsky.feed.post/1"}
	for i := 0; i < 1000; i++ {
		out := Decide(rng, item, state, cfg)
		assert.False(out.DoReply)
	}
}

func TestDecideGoalMetDisablesKind(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := statestore.NewState(now)
	cfg := decisionFixture()
	state.DailyLikes = cfg.Goals.Likes

	rng := rand.New(rand.NewSource(1))
	item := &CandidateItem{ID: "at://did:plc:abc/app.bsky.feed.post/1"}
	for i := 0; i < 1000; i++ {
		out := Decide(rng, item, state, cfg)
		assert.False(out.DoLike)
	}
}

func TestDecideDedupIsAuthoritative(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	state := statestore.NewState(now)
	cfg := decisionFixture()
	// force the sampled probability to certainty so only dedup can say no
	cfg.BaseReplyProb = 1000
	cfg.BaseLikeProb = 1000
	cfg.MaxProb = 1.0

	item := &CandidateItem{ID: "at://did:plc:abc/app.bsky.feed.post/1"}
	state.MarkProcessed(statestore.ActionReply, item.ID, now)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		out := Decide(rng, item, state, cfg)
		assert.False(out.DoReply)
		assert.True(out.DoLike)
	}

	state.MarkProcessed(statestore.ActionLike, item.ID, now)
	out := Decide(rng, item, state, cfg)
	assert.False(out.DoReply)
	assert.False(out.DoLike)
}

func TestDecideProbabilityCap(t *testing.T) {
	assert := assert.New(t)

	cfg := decisionFixture()
	cfg.TargetCount = 1
	cfg.SampleSize = 1

	// enormous remaining quota still caps at MaxProb
	assert.InDelta(cfg.MaxProb, cfg.prob(cfg.BaseReplyProb, 100000), 0.0001)
	// zero quota means zero probability
	assert.Equal(0.0, cfg.prob(cfg.BaseReplyProb, 0))
}

func TestEligible(t *testing.T) {
	assert := assert.New(t)

	assert.True(Eligible(&CandidateItem{ID: "a"}))
	assert.False(Eligible(&CandidateItem{ID: "b", IsRepost: true}))
	assert.False(Eligible(&CandidateItem{ID: "c", IsOffTargetReply: true}))
}
