// Package metrics holds the Prometheus collectors of the chat core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts messages appended to a transcript, by conversation kind.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weconnect_messages_sent_total",
			Help: "Messages appended to a shared transcript",
		},
		[]string{"kind"},
	)

	// SendFailures counts aborted sends, by reason.
	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weconnect_send_failures_total",
			Help: "Sends that did not produce a message",
		},
		[]string{"reason"},
	)

	// FanOutWrites counts per-participant summary writes, by result.
	FanOutWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weconnect_fanout_writes_total",
			Help: "Directory summary writes performed by fan-out",
		},
		[]string{"result"},
	)

	// Uploads counts upload gateway calls, by result.
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weconnect_uploads_total",
			Help: "Upload gateway calls",
		},
		[]string{"result"},
	)

	// UploadBytes tracks accepted upload sizes.
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weconnect_upload_bytes",
			Help:    "Size of accepted uploads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// DirectorySnapshots counts directory snapshots delivered to subscribers.
	DirectorySnapshots = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weconnect_directory_snapshots_total",
			Help: "Directory snapshots delivered",
		},
	)

	// ProfileFallbacks counts placeholder identities substituted for failed reads.
	ProfileFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weconnect_profile_fallbacks_total",
			Help: "Placeholder identities used after a profile read failed",
		},
	)

	// ActiveSubscriptions tracks open directory and transcript subscriptions.
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weconnect_active_subscriptions",
			Help: "Open subscriptions",
		},
		[]string{"kind"},
	)

	// PresenceSweeps counts on-disconnect writes performed by the reaper.
	PresenceSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weconnect_presence_sweeps_total",
			Help: "Offline writes performed for expired presence leases",
		},
	)
)
