package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Console and hypervisor metrics collectors
var (
	// Console engine

	ConsoleActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselib_console_actions_total",
			Help: "Total number of terminal actions issued",
		},
		[]string{"action", "status"},
	)

	ConsoleActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baselib_console_action_duration_seconds",
			Help:    "Terminal action round-trip latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action"},
	)

	ConsoleRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselib_console_recoveries_total",
			Help: "Total number of screen recovery actions (clear on full screen, enter on halted guest)",
		},
		[]string{"kind"},
	)

	LoginRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baselib_console_login_retries_total",
			Help: "Total number of logon submissions retried on a pending logoff condition",
		},
	)

	// Hypervisor drivers

	HypervisorOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselib_hypervisor_operations_total",
			Help: "Total number of hypervisor operations executed",
		},
		[]string{"hypervisor", "operation", "status"},
	)

	HypervisorOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baselib_hypervisor_operation_duration_seconds",
			Help:    "Hypervisor operation latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"hypervisor", "operation"},
	)

	// Console attach service

	AttachSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baselib_attach_sessions_active",
			Help: "Number of active console attach sessions",
		},
	)

	AttachSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselib_attach_sessions_total",
			Help: "Total number of console attach sessions opened",
		},
		[]string{"status"},
	)
)
