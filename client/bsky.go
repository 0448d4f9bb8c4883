// Package client implements the network-facing collaborators of the pacing
// engine against the bsky appview/PDS XRPC API: timeline fetch, like, and
// reply. All interaction is outbound; this process serves nothing itself.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/larkbot/larkbot/pacer"

	"github.com/RussellLuo/slidingwindow"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
)

// FetchError is a recoverable per-target failure; the scheduler skips the
// target and continues the cycle.
type FetchError struct {
	Target string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching timeline for %s: %s", e.Target, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ActionError is a recoverable per-item failure; the item is not marked
// processed and will be retried in a later cycle.
type ActionError struct {
	Kind string
	ID   string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action on %s: %s", e.Kind, e.ID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func perDayLimiter(count int64) *slidingwindow.Limiter {
	lim, _ := slidingwindow.NewLimiter(time.Hour*24, count, func() (slidingwindow.Window, slidingwindow.StopFunc) {
		return slidingwindow.NewLocalWindow()
	})
	return lim
}

// Client wraps an authenticated xrpc.Client. A per-day sliding-window budget
// on total outbound calls acts as a hard backstop, independent of the pacing
// governor's advisory ceilings.
type Client struct {
	xrpc   *xrpc.Client
	logger *slog.Logger
	budget *slidingwindow.Limiter
}

func NewClient(xrpcc *xrpc.Client, logger *slog.Logger, dailyCallBudget int64) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		xrpc:   xrpcc,
		logger: logger,
		budget: perDayLimiter(dailyCallBudget),
	}
}

type actorBasic struct {
	Did    string `json:"did"`
	Handle string `json:"handle"`
}

type strongRef struct {
	Uri string `json:"uri"`
	Cid string `json:"cid"`
}

type postRecord struct {
	Type      string        `json:"$type"`
	Text      string        `json:"text"`
	CreatedAt string        `json:"createdAt,omitempty"`
	Reply     *postReplyRef `json:"reply,omitempty"`
}

type postReplyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type postView struct {
	Uri    string     `json:"uri"`
	Cid    string     `json:"cid"`
	Author actorBasic `json:"author"`
	Record postRecord `json:"record"`
}

type reasonView struct {
	Type string `json:"$type"`
}

type feedViewPost struct {
	Post   postView    `json:"post"`
	Reason *reasonView `json:"reason,omitempty"`
}

type authorFeedResponse struct {
	Cursor *string        `json:"cursor,omitempty"`
	Feed   []feedViewPost `json:"feed"`
}

// FetchTimeline returns up to limit recent items for the target account,
// most-recent-first, mapped to candidate items with eligibility flags set.
func (c *Client) FetchTimeline(ctx context.Context, handle string, limit int) ([]*pacer.CandidateItem, error) {
	if !c.budget.Allow() {
		return nil, &FetchError{Target: handle, Err: fmt.Errorf("daily outbound call budget exhausted")}
	}

	var out authorFeedResponse
	params := map[string]interface{}{
		"actor": handle,
		"limit": limit,
	}
	if err := c.xrpc.Do(ctx, xrpc.Query, "", "app.bsky.feed.getAuthorFeed", params, nil, &out); err != nil {
		return nil, &FetchError{Target: handle, Err: err}
	}

	items := make([]*pacer.CandidateItem, 0, len(out.Feed))
	for _, fvp := range out.Feed {
		items = append(items, candidateFromFeedView(fvp))
	}
	return items, nil
}

func candidateFromFeedView(fvp feedViewPost) *pacer.CandidateItem {
	post := fvp.Post
	item := &pacer.CandidateItem{
		ID:      post.Uri,
		CID:     post.Cid,
		Author:  post.Author.Handle,
		Text:    post.Record.Text,
		RootID:  post.Uri,
		RootCID: post.Cid,
	}
	if fvp.Reason != nil && fvp.Reason.Type == "app.bsky.feed.defs#reasonRepost" {
		item.IsRepost = true
	}
	if post.Record.Reply != nil {
		item.RootID = post.Record.Reply.Root.Uri
		item.RootCID = post.Record.Reply.Root.Cid
		// a reply within the author's own thread is still fair game;
		// replies into other accounts' threads are not. AT-URIs may
		// carry either a DID or a handle as the authority, so match
		// against both.
		auth := parentAuthority(post.Record.Reply.Parent.Uri)
		if auth != post.Author.Did && auth != post.Author.Handle {
			item.IsOffTargetReply = true
		}
	}
	return item
}

func parentAuthority(uri string) string {
	aturi, err := syntax.ParseATURI(uri)
	if err != nil {
		return ""
	}
	return aturi.Authority().String()
}

type createRecordRequest struct {
	Collection string      `json:"collection"`
	Repo       string      `json:"repo"`
	Record     interface{} `json:"record"`
}

type createRecordResponse struct {
	Uri string `json:"uri"`
	Cid string `json:"cid"`
}

type likeRecord struct {
	Type      string    `json:"$type"`
	CreatedAt string    `json:"createdAt"`
	Subject   strongRef `json:"subject"`
}

// Like creates an app.bsky.feed.like record for the item.
func (c *Client) Like(ctx context.Context, item *pacer.CandidateItem) error {
	if !c.budget.Allow() {
		return &ActionError{Kind: "like", ID: item.ID, Err: fmt.Errorf("daily outbound call budget exhausted")}
	}

	body := createRecordRequest{
		Collection: "app.bsky.feed.like",
		Repo:       c.xrpc.Auth.Did,
		Record: likeRecord{
			Type:      "app.bsky.feed.like",
			CreatedAt: syntax.DatetimeNow().String(),
			Subject:   strongRef{Uri: item.ID, Cid: item.CID},
		},
	}
	var out createRecordResponse
	if err := c.xrpc.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.createRecord", nil, body, &out); err != nil {
		return &ActionError{Kind: "like", ID: item.ID, Err: err}
	}
	return nil
}

// Reply creates an app.bsky.feed.post record in reply to the item. The text
// is prefixed with a mention of the original author and truncated defensively
// to the post length limit regardless of what the generator promised.
func (c *Client) Reply(ctx context.Context, item *pacer.CandidateItem, text string) error {
	if !c.budget.Allow() {
		return &ActionError{Kind: "reply", ID: item.ID, Err: fmt.Errorf("daily outbound call budget exhausted")}
	}

	full := truncatePost(fmt.Sprintf("@%s %s", item.Author, text))
	body := createRecordRequest{
		Collection: "app.bsky.feed.post",
		Repo:       c.xrpc.Auth.Did,
		Record: postRecord{
			Type:      "app.bsky.feed.post",
			Text:      full,
			CreatedAt: syntax.DatetimeNow().String(),
			Reply: &postReplyRef{
				Root:   strongRef{Uri: item.RootID, Cid: item.RootCID},
				Parent: strongRef{Uri: item.ID, Cid: item.CID},
			},
		},
	}
	var out createRecordResponse
	if err := c.xrpc.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.createRecord", nil, body, &out); err != nil {
		return &ActionError{Kind: "reply", ID: item.ID, Err: err}
	}
	c.logger.Debug("created reply record", "uri", out.Uri)
	return nil
}

const maxPostLen = 280

func truncatePost(s string) string {
	runes := []rune(s)
	if len(runes) <= maxPostLen {
		return s
	}
	return string(runes[:maxPostLen-3]) + "..."
}
