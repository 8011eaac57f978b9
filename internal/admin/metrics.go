package admin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts dispatched admin commands by method and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunker_admin_commands_total",
		Help: "The total number of admin commands by method and outcome",
	}, []string{"method", "outcome"})

	// CommandDuration observes command latency.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bunker_admin_command_duration_seconds",
		Help:    "Admin command duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
