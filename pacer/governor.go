package pacer

import (
	"time"

	"github.com/larkbot/larkbot/pacer/statestore"
)

// Ceilings are the short-term per-kind action limits, independent of the
// daily goals.
type Ceilings struct {
	// Window is the trailing span the ceilings apply to.
	Window time.Duration
	Reply  int
	Like   int
}

func DefaultCeilings() Ceilings {
	return Ceilings{
		Window: 15 * time.Minute,
		Reply:  50,
		Like:   40,
	}
}

// Governor answers whether an action kind is currently allowed under the
// short-term ceilings, by summing the persisted action log over the trailing
// window. This is advisory pacing, not a token bucket: it gates new attempts
// but reserves no capacity, which is fine for a single-threaded engine.
type Governor struct {
	Ceilings Ceilings
}

func (g Governor) ceiling(kind statestore.ActionKind) int {
	if kind == statestore.ActionReply {
		return g.Ceilings.Reply
	}
	return g.Ceilings.Like
}

// Allowed returns false once the windowed sum meets or exceeds the per-kind
// ceiling. An empty log always allows.
func (g Governor) Allowed(state *statestore.PersistentState, kind statestore.ActionKind, now time.Time) bool {
	return state.WindowSum(kind, g.Ceilings.Window, now) < g.ceiling(kind)
}
