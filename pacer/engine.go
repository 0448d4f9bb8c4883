// Package pacer implements the action-pacing core: a single-threaded cycle
// scheduler which walks a target list in randomized order, samples
// probabilistic action decisions per fetched item, enforces daily goals and
// short-window ceilings against persisted state, and commits every successful
// action durably before moving on.
package pacer

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/larkbot/larkbot/pacer/statestore"
)

// Engine is the outer control loop. All suspension is cooperative sleep on
// the sole goroutine; there is deliberately no overlap between sleeping and
// other cycle work, which is what produces the irregular cadence.
type Engine struct {
	Logger    *slog.Logger
	Store     statestore.Store
	Feed      FeedSource
	Actions   ActionClient
	Generator ReplyGenerator

	Targets  []string
	Decision DecisionConfig
	Governor Governor
	Delays   Delays
	// IDRetention bounds the processed-id sets: ids older than this are
	// dropped at day rollover.
	IDRetention time.Duration

	// RNG drives shuffle order, delay jitter, and decision sampling.
	RNG *rand.Rand
	// Sleep may be overridden in tests; the default is a context-aware
	// timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now may be overridden in tests.
	Now func() time.Time

	state *statestore.PersistentState
}

func NewEngine(logger *slog.Logger, store statestore.Store, feed FeedSource, actions ActionClient, gen ReplyGenerator, targets []string) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	decision := DefaultDecisionConfig()
	decision.TargetCount = len(targets)
	return &Engine{
		Logger:      logger,
		Store:       store,
		Feed:        feed,
		Actions:     actions,
		Generator:   gen,
		Targets:     targets,
		Decision:    decision,
		Governor:    Governor{Ceilings: DefaultCeilings()},
		Delays:      DefaultDelays(),
		IDRetention: 30 * 24 * time.Hour,
		RNG:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type targetOutcome string

const (
	outcomeFetched     = targetOutcome("fetched")
	outcomeFetchFailed = targetOutcome("fetch-failed")
	outcomeDeferred    = targetOutcome("rate-deferred")
)

// Run loops cycles until the context is cancelled, persisting state once more
// on the way out. Transient errors inside a cycle never terminate the
// process: they are logged, followed by a flat recovery sleep, and the loop
// resumes.
func (eng *Engine) Run(ctx context.Context) error {
	state, err := eng.Store.Load()
	if err != nil {
		return err
	}
	eng.state = state
	eng.Logger.Info("pacer starting",
		"targets", len(eng.Targets),
		"reply_goal", eng.Decision.Goals.Replies,
		"like_goal", eng.Decision.Goals.Likes,
		"daily_replies", state.DailyReplies,
		"daily_likes", state.DailyLikes)

	for {
		if err := eng.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return eng.shutdown()
			}
			eng.Logger.Error("cycle failed", "err", err)
			if eng.pause(ctx, eng.Delays.Recovery) != nil {
				return eng.shutdown()
			}
			continue
		}
		cyclesCompleted.Inc()
		if eng.pause(ctx, eng.Delays.Cycle.Sample(eng.RNG)) != nil {
			return eng.shutdown()
		}
	}
}

// RunCycle performs one full pass over the target list. Per-target and
// per-item failures are handled locally; only state-persistence errors and
// context cancellation escape.
func (eng *Engine) RunCycle(ctx context.Context) error {
	if eng.state == nil {
		state, err := eng.Store.Load()
		if err != nil {
			return err
		}
		eng.state = state
	}

	now := eng.now()
	rolled, err := statestore.RolloverIfNewDay(eng.Store, eng.state, now, eng.IDRetention)
	if err != nil {
		return err
	}
	if rolled {
		eng.Logger.Info("new UTC day, daily counters reset")
	}

	if eng.goalsMet() {
		eng.Logger.Info("daily goals reached, sleeping",
			"daily_replies", eng.state.DailyReplies,
			"daily_likes", eng.state.DailyLikes)
		if err := eng.Store.Save(eng.state); err != nil {
			return err
		}
		return eng.pause(ctx, eng.Delays.GoalsMet)
	}

	targets := append([]string(nil), eng.Targets...)
	eng.RNG.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		oc, err := eng.visitTarget(ctx, target)
		if err != nil {
			return err
		}
		eng.Logger.Debug("target visited", "target", target, "outcome", oc)
		if oc == outcomeFetched {
			if err := eng.pause(ctx, eng.Delays.Target.Sample(eng.RNG)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (eng *Engine) visitTarget(ctx context.Context, target string) (targetOutcome, error) {
	now := eng.now()
	if !eng.Governor.Allowed(eng.state, statestore.ActionReply, now) ||
		!eng.Governor.Allowed(eng.state, statestore.ActionLike, now) {
		targetsDeferred.Inc()
		eng.Logger.Info("short-term ceiling hit, deferring target",
			"target", target,
			"recent_replies", eng.state.WindowSum(statestore.ActionReply, eng.Governor.Ceilings.Window, now),
			"recent_likes", eng.state.WindowSum(statestore.ActionLike, eng.Governor.Ceilings.Window, now))
		return outcomeDeferred, eng.pause(ctx, eng.Delays.CeilingBackoff.Sample(eng.RNG))
	}

	items, err := eng.Feed.FetchTimeline(ctx, target, eng.Decision.SampleSize)
	if err != nil {
		fetchesFailed.Inc()
		eng.Logger.Warn("timeline fetch failed", "target", target, "err", err)
		return outcomeFetchFailed, eng.pause(ctx, eng.Delays.FetchBackoff)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return outcomeFetched, err
		}
		if err := eng.processItem(ctx, item); err != nil {
			return outcomeFetched, err
		}
		if err := eng.pause(ctx, eng.Delays.Item.Sample(eng.RNG)); err != nil {
			return outcomeFetched, err
		}
	}
	return outcomeFetched, nil
}

// processItem runs the decision engine for one candidate and executes any
// allowed actions. Remote action and generation failures are logged and
// dropped without mutating state, so the item is retried in a later cycle;
// only failures to persist committed state escape.
func (eng *Engine) processItem(ctx context.Context, item *CandidateItem) error {
	itemsSeen.Inc()
	state := eng.state

	if !Eligible(item) {
		itemsSkipped.WithLabelValues("ineligible").Inc()
		eng.Logger.Debug("skipping ineligible item", "item", item.ID,
			"repost", item.IsRepost, "off_target_reply", item.IsOffTargetReply)
		return nil
	}
	if state.Processed(statestore.ActionReply, item.ID) && state.Processed(statestore.ActionLike, item.ID) {
		itemsSkipped.WithLabelValues("processed").Inc()
		return nil
	}

	out := Decide(eng.RNG, item, state, eng.Decision)

	if out.DoLike && state.DailyLikes < eng.Decision.Goals.Likes &&
		eng.Governor.Allowed(state, statestore.ActionLike, eng.now()) {
		if err := eng.Actions.Like(ctx, item); err != nil {
			actionsFailed.WithLabelValues("like").Inc()
			eng.Logger.Warn("like failed", "item", item.ID, "err", err)
		} else {
			if err := eng.commit(statestore.ActionLike, item); err != nil {
				return err
			}
			eng.Logger.Info("liked", "item", item.ID, "author", item.Author,
				"daily_likes", state.DailyLikes)
			if err := eng.pause(ctx, eng.Delays.AfterLike.Sample(eng.RNG)); err != nil {
				return err
			}
		}
	}

	if out.DoReply && state.DailyReplies < eng.Decision.Goals.Replies &&
		eng.Governor.Allowed(state, statestore.ActionReply, eng.now()) {
		text, err := eng.Generator.Generate(ctx, item.Text)
		if err != nil {
			generationsFailed.Inc()
			eng.Logger.Warn("reply generation failed", "item", item.ID, "err", err)
			return nil
		}
		if err := eng.Actions.Reply(ctx, item, text); err != nil {
			actionsFailed.WithLabelValues("reply").Inc()
			eng.Logger.Warn("reply failed", "item", item.ID, "err", err)
			return nil
		}
		if err := eng.commit(statestore.ActionReply, item); err != nil {
			return err
		}
		eng.Logger.Info("replied", "item", item.ID, "author", item.Author,
			"text", text, "daily_replies", state.DailyReplies)
		if err := eng.pause(ctx, eng.Delays.AfterReply.Sample(eng.RNG)); err != nil {
			return err
		}
	}
	return nil
}

// commit durably records a successful remote action. Marking the id, bumping
// the daily counter, appending the window-log entry and persisting happen as
// one sequential step; a crash between the remote action and this commit is
// the accepted at-most-one-duplicate failure mode.
func (eng *Engine) commit(kind statestore.ActionKind, item *CandidateItem) error {
	now := eng.now()
	eng.state.MarkProcessed(kind, item.ID, now)
	eng.state.IncrementDaily(kind)
	eng.state.RecordAction(kind, 1, now)
	if err := eng.Store.Save(eng.state); err != nil {
		return err
	}
	actionsCommitted.WithLabelValues(string(kind)).Inc()
	return nil
}

func (eng *Engine) goalsMet() bool {
	return eng.state.DailyReplies >= eng.Decision.Goals.Replies &&
		eng.state.DailyLikes >= eng.Decision.Goals.Likes
}

// State exposes the loaded state, mostly for tests and shutdown reporting.
func (eng *Engine) State() *statestore.PersistentState {
	return eng.state
}

func (eng *Engine) shutdown() error {
	eng.Logger.Info("interrupt received, persisting state and exiting")
	if eng.state == nil {
		return nil
	}
	return eng.Store.Save(eng.state)
}

func (eng *Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now()
	}
	return time.Now().UTC()
}

func (eng *Engine) pause(ctx context.Context, d time.Duration) error {
	if eng.Sleep != nil {
		return eng.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
