package pacer

import (
	"context"
)

// CandidateItem is one fetched post under consideration for actions. It is
// ephemeral: produced by the feed source, evaluated once, then discarded.
type CandidateItem struct {
	// ID is the canonical item identifier (an AT-URI on bsky), used for dedup.
	ID  string
	CID string
	// Author is the handle of the account that wrote the post.
	Author string
	Text   string

	IsRepost bool
	// IsOffTargetReply marks posts which are themselves replies aimed at
	// some other account; those never receive actions.
	IsOffTargetReply bool

	// Root of the thread the item belongs to, for constructing reply refs.
	// Both fields equal ID/CID when the item is a top-level post.
	RootID  string
	RootCID string
}

// FeedSource fetches recent items for a target account, most-recent-first.
type FeedSource interface {
	FetchTimeline(ctx context.Context, handle string, limit int) ([]*CandidateItem, error)
}

// ActionClient performs the remote like and reply actions.
type ActionClient interface {
	Like(ctx context.Context, item *CandidateItem) error
	Reply(ctx context.Context, item *CandidateItem, text string) error
}

// ReplyGenerator produces a short single-line reply for a source text.
type ReplyGenerator interface {
	Generate(ctx context.Context, sourceText string) (string, error)
}

// Eligible reports whether an item may receive any action at all: reposts and
// replies directed at other accounts are filtered before any sampling.
func Eligible(item *CandidateItem) bool {
	return !item.IsRepost && !item.IsOffTargetReply
}
