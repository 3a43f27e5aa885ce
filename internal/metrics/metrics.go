// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "probemeter_probes_total",
		Help: "Probe executions by outcome status.",
	}, []string{"status"})

	ProbesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "probemeter_probes_in_flight",
		Help: "Probes currently executing (bounded by the worker pool).",
	})

	CreditsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probemeter_credits_consumed_total",
		Help: "Credits successfully debited across all sessions.",
	})

	FailedCharges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probemeter_failed_charges_total",
		Help: "Debits refused for insufficient funds.",
	})

	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probemeter_scheduler_ticks_total",
		Help: "Completed scheduler selection passes.",
	})
)
