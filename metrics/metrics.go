package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dcnet"

var (
	// RoundsTotal counts finished rounds per kind and outcome
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rounds_total",
			Help:      "Total number of rounds run by the state machine",
		},
		// kind: reservation/transmission/blame/coin, outcome: ok/aborted/error
		[]string{"kind", "outcome"},
	)

	SharingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sharing",
			Name:      "instance_duration_seconds",
			Help:      "Duration of a sharing instance from commitments to reconstruction",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	DeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "deliveries_total",
			Help:      "Total number of messages reconstructed and delivered",
		},
	)

	CollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "collisions_total",
			Help:      "Total number of reservation slots with an invalid checksum",
		},
	)

	AccusationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blame",
			Name:      "accusations_total",
			Help:      "Total number of accusations adjudicated",
		},
		// kind: share/sum/jam, verdict: suspect/accuser/none
		[]string{"kind", "verdict"},
	)

	ExclusionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blame",
			Name:      "exclusions_total",
			Help:      "Total number of members excluded from the group",
		},
	)

	FairnessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fairness",
			Name:      "runs_total",
			Help:      "Total number of fairness protocol runs per coin value",
		},
		[]string{"coin"},
	)

	GroupSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "group_size",
			Help:      "Number of members in the current group",
		},
	)

	PendingMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pending_messages",
			Help:      "Number of submitted messages waiting for a slot",
		},
	)
)

// ObserveSharing records the duration of a sharing instance started at start
func ObserveSharing(kind string, start time.Time) {
	SharingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
