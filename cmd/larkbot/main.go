// larkbot: engagement pacing daemon. Walks a fixed list of target accounts,
// likes and replies to their recent posts at human-like randomized pace,
// bounded by daily goals and short-window ceilings, with durable dedup state
// across restarts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/larkbot/larkbot/client"
	"github.com/larkbot/larkbot/pacer"
	"github.com/larkbot/larkbot/pacer/statestore"
	"github.com/larkbot/larkbot/replygen"

	"github.com/adrg/xdg"
	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "larkbot",
		Usage:   "engagement pacing daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "handle",
			Usage:    "account handle or DID to act as",
			Required: true,
			EnvVars:  []string{"LARKBOT_HANDLE"},
		},
		&cli.StringFlag{
			Name:     "password",
			Usage:    "app password for the account",
			Required: true,
			EnvVars:  []string{"LARKBOT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "pds-host",
			Usage:   "hostname and port of PDS instance (resolved from identity when empty)",
			EnvVars: []string{"ATP_PDS_HOST"},
		},
		&cli.StringFlag{
			Name:    "plc-host",
			Usage:   "method, hostname, and port of PLC registry",
			Value:   "https://plc.directory",
			EnvVars: []string{"ATP_PLC_HOST"},
		},
		&cli.StringFlag{
			Name:     "openai-api-key",
			Usage:    "API key for the completion endpoint",
			Required: true,
			EnvVars:  []string{"OPENAI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "openai-base-url",
			Usage:   "base URL of an OpenAI-compatible completion endpoint",
			EnvVars: []string{"OPENAI_BASE_URL"},
		},
		&cli.StringFlag{
			Name:    "model",
			Usage:   "completion model for reply generation",
			Value:   "gpt-4o-mini",
			EnvVars: []string{"LARKBOT_MODEL"},
		},
		&cli.StringFlag{
			Name:    "system-prompt",
			Usage:   "override the reply generation system prompt",
			EnvVars: []string{"LARKBOT_SYSTEM_PROMPT"},
		},
		&cli.StringSliceFlag{
			Name:     "target",
			Usage:    "target account handle (repeatable)",
			Required: true,
			EnvVars:  []string{"LARKBOT_TARGETS"},
		},
		&cli.IntFlag{
			Name:    "daily-reply-goal",
			Usage:   "target number of replies per UTC day",
			Value:   200,
			EnvVars: []string{"LARKBOT_DAILY_REPLY_GOAL"},
		},
		&cli.IntFlag{
			Name:    "daily-like-goal",
			Usage:   "target number of likes per UTC day",
			Value:   100,
			EnvVars: []string{"LARKBOT_DAILY_LIKE_GOAL"},
		},
		&cli.IntFlag{
			Name:    "reply-ceiling",
			Usage:   "max replies within the trailing rate window",
			Value:   50,
			EnvVars: []string{"LARKBOT_REPLY_CEILING"},
		},
		&cli.IntFlag{
			Name:    "like-ceiling",
			Usage:   "max likes within the trailing rate window",
			Value:   40,
			EnvVars: []string{"LARKBOT_LIKE_CEILING"},
		},
		&cli.DurationFlag{
			Name:    "rate-window",
			Usage:   "trailing window the ceilings apply to",
			Value:   15 * time.Minute,
			EnvVars: []string{"LARKBOT_RATE_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "sample-size",
			Usage:   "recent items fetched per target per cycle",
			Value:   5,
			EnvVars: []string{"LARKBOT_SAMPLE_SIZE"},
		},
		&cli.Int64Flag{
			Name:    "outbound-call-budget",
			Usage:   "hard per-day budget of outbound API calls",
			Value:   5000,
			EnvVars: []string{"LARKBOT_OUTBOUND_CALL_BUDGET"},
		},
		&cli.DurationFlag{
			Name:    "id-retention",
			Usage:   "how long processed item ids are remembered",
			Value:   30 * 24 * time.Hour,
			EnvVars: []string{"LARKBOT_ID_RETENTION"},
		},
		&cli.StringFlag{
			Name:    "state-file",
			Usage:   "path of the persistent state file (defaults to the xdg state dir)",
			EnvVars: []string{"LARKBOT_STATE_FILE"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			Value:   ":3989",
			EnvVars: []string{"LARKBOT_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "item-delay-min",
			Value:   1500 * time.Millisecond,
			EnvVars: []string{"LARKBOT_ITEM_DELAY_MIN"},
		},
		&cli.DurationFlag{
			Name:    "item-delay-max",
			Value:   3500 * time.Millisecond,
			EnvVars: []string{"LARKBOT_ITEM_DELAY_MAX"},
		},
		&cli.DurationFlag{
			Name:    "like-pause-min",
			Value:   2 * time.Second,
			EnvVars: []string{"LARKBOT_LIKE_PAUSE_MIN"},
		},
		&cli.DurationFlag{
			Name:    "like-pause-max",
			Value:   6 * time.Second,
			EnvVars: []string{"LARKBOT_LIKE_PAUSE_MAX"},
		},
		&cli.DurationFlag{
			Name:    "reply-pause-min",
			Value:   20 * time.Second,
			EnvVars: []string{"LARKBOT_REPLY_PAUSE_MIN"},
		},
		&cli.DurationFlag{
			Name:    "reply-pause-max",
			Value:   120 * time.Second,
			EnvVars: []string{"LARKBOT_REPLY_PAUSE_MAX"},
		},
		&cli.DurationFlag{
			Name:    "target-delay-min",
			Value:   5 * time.Second,
			EnvVars: []string{"LARKBOT_TARGET_DELAY_MIN"},
		},
		&cli.DurationFlag{
			Name:    "target-delay-max",
			Value:   30 * time.Second,
			EnvVars: []string{"LARKBOT_TARGET_DELAY_MAX"},
		},
		&cli.DurationFlag{
			Name:    "cycle-delay-min",
			Value:   30 * time.Second,
			EnvVars: []string{"LARKBOT_CYCLE_DELAY_MIN"},
		},
		&cli.DurationFlag{
			Name:    "cycle-delay-max",
			Value:   5 * time.Minute,
			EnvVars: []string{"LARKBOT_CYCLE_DELAY_MAX"},
		},
		&cli.DurationFlag{
			Name:    "ceiling-backoff-min",
			Value:   5 * time.Minute,
			EnvVars: []string{"LARKBOT_CEILING_BACKOFF_MIN"},
		},
		&cli.DurationFlag{
			Name:    "ceiling-backoff-max",
			Value:   10 * time.Minute,
			EnvVars: []string{"LARKBOT_CEILING_BACKOFF_MAX"},
		},
		&cli.DurationFlag{
			Name:    "fetch-backoff",
			Value:   5 * time.Second,
			EnvVars: []string{"LARKBOT_FETCH_BACKOFF"},
		},
		&cli.DurationFlag{
			Name:    "goals-met-sleep",
			Value:   30 * time.Minute,
			EnvVars: []string{"LARKBOT_GOALS_MET_SLEEP"},
		},
		&cli.DurationFlag{
			Name:    "recovery-sleep",
			Value:   30 * time.Second,
			EnvVars: []string{"LARKBOT_RECOVERY_SLEEP"},
		},
	}

	app.Action = runDaemon
	return app.Run(args)
}

func runDaemon(cctx *cli.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	targets := cctx.StringSlice("target")
	if len(targets) == 0 {
		return fmt.Errorf("no target accounts configured")
	}

	statePath := cctx.String("state-file")
	if statePath == "" {
		p, err := xdg.StateFile("larkbot/state.json")
		if err != nil {
			return fmt.Errorf("resolving state file path: %w", err)
		}
		statePath = p
	}
	store := statestore.NewFileStore(statePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	xrpcc, err := client.NewSessionClient(ctx,
		cctx.String("handle"),
		cctx.String("password"),
		cctx.String("pds-host"),
		cctx.String("plc-host"),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	bsky := client.NewClient(xrpcc, logger, cctx.Int64("outbound-call-budget"))

	genCfg := replygen.DefaultConfig(cctx.String("openai-api-key"))
	if v := cctx.String("openai-base-url"); v != "" {
		genCfg.BaseURL = v
	}
	genCfg.Model = cctx.String("model")
	if v := cctx.String("system-prompt"); v != "" {
		genCfg.SystemPrompt = v
	}
	gen := replygen.NewClient(genCfg)

	eng := pacer.NewEngine(logger, store, bsky, bsky, gen, targets)
	eng.Decision.Goals = pacer.Goals{
		Replies: cctx.Int("daily-reply-goal"),
		Likes:   cctx.Int("daily-like-goal"),
	}
	eng.Decision.SampleSize = cctx.Int("sample-size")
	eng.Governor = pacer.Governor{Ceilings: pacer.Ceilings{
		Window: cctx.Duration("rate-window"),
		Reply:  cctx.Int("reply-ceiling"),
		Like:   cctx.Int("like-ceiling"),
	}}
	eng.IDRetention = cctx.Duration("id-retention")
	eng.Delays = pacer.Delays{
		Item:           pacer.DelayRange{Min: cctx.Duration("item-delay-min"), Max: cctx.Duration("item-delay-max")},
		AfterLike:      pacer.DelayRange{Min: cctx.Duration("like-pause-min"), Max: cctx.Duration("like-pause-max")},
		AfterReply:     pacer.DelayRange{Min: cctx.Duration("reply-pause-min"), Max: cctx.Duration("reply-pause-max")},
		Target:         pacer.DelayRange{Min: cctx.Duration("target-delay-min"), Max: cctx.Duration("target-delay-max")},
		Cycle:          pacer.DelayRange{Min: cctx.Duration("cycle-delay-min"), Max: cctx.Duration("cycle-delay-max")},
		CeilingBackoff: pacer.DelayRange{Min: cctx.Duration("ceiling-backoff-min"), Max: cctx.Duration("ceiling-backoff-max")},
		FetchBackoff:   cctx.Duration("fetch-backoff"),
		GoalsMet:       cctx.Duration("goals-met-sleep"),
		Recovery:       cctx.Duration("recovery-sleep"),
	}

	go func() {
		if err := runMetrics(cctx.String("metrics-listen")); err != nil {
			slog.Error("failed to start metrics endpoint", "error", err)
		}
	}()

	logger.Info("larkbot starting",
		"version", versioninfo.Short(),
		"state_file", statePath,
		"targets", len(targets))

	return eng.Run(ctx)
}

func runMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}
