// Package metrics holds Prometheus collectors of the bridge.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "smart_trashcans"

var (
	UplinkReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_received_total",
			Help:      "Uplink messages persisted, by operation",
		},
		[]string{"operation"},
	)

	UplinkRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_rejected_total",
			Help:      "Uplink messages dropped, by reason",
		},
		[]string{"reason"},
	)

	DownlinkTargets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downlink_targets_total",
			Help:      "Downlink per-device publish attempts, by result",
		},
		[]string{"result"},
	)

	DownlinkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "downlink_publish_duration_seconds",
			Help:      "Duration of one fan-out publish",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ReportsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Telegram report messages, by result",
		},
		[]string{"result"},
	)

	ErrorsLogged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_logged_total",
			Help:      "Errors written to log",
		},
	)

	UplinkState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uplink_state",
			Help:      "Uplink listener state: 0 unconfigured, 1 connecting, 2 subscribed, 3 reconnecting, 4 closed",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		UplinkReceived,
		UplinkRejected,
		DownlinkTargets,
		DownlinkDuration,
		ReportsSent,
		ErrorsLogged,
		UplinkState,
	}
}

// Register adds all collectors to reg. Safe to call once per registry.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
