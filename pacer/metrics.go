package pacer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cyclesCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "larkbot_cycles_completed",
	Help: "Number of full passes over the target list",
})

var itemsSeen = promauto.NewCounter(prometheus.CounterOpts{
	Name: "larkbot_items_seen",
	Help: "Number of candidate items evaluated",
})

var itemsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "larkbot_items_skipped",
	Help: "Number of candidate items skipped, by reason",
}, []string{"reason"})

var actionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "larkbot_actions_committed",
	Help: "Number of actions performed and persisted, by kind",
}, []string{"kind"})

var actionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "larkbot_actions_failed",
	Help: "Number of remote action failures, by kind",
}, []string{"kind"})

var fetchesFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "larkbot_fetches_failed",
	Help: "Number of failed timeline fetches",
})

var targetsDeferred = promauto.NewCounter(prometheus.CounterOpts{
	Name: "larkbot_targets_deferred",
	Help: "Number of targets skipped because a short-term ceiling was hit",
})

var generationsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "larkbot_generations_failed",
	Help: "Number of failed reply generations",
})
