package observability

import "github.com/prometheus/client_golang/prometheus"

// Vote submission outcomes used as the "outcome" label.
const (
	OutcomeAccepted  = "accepted"
	OutcomeReplayed  = "replayed"
	OutcomeDenied    = "denied"
	OutcomeDuplicate = "already_voted"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

var (
	// VotesSubmitted counts submissions by outcome.
	VotesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_votes_submitted_total",
			Help: "Vote submissions by outcome.",
		},
		[]string{"outcome"},
	)

	// SubmitLatency records the time spent persisting an accepted batch.
	SubmitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poll_vote_persist_duration_seconds",
			Help:    "Duration of the vote batch transaction in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LiveUnits gauges the aggregation units currently resident.
	LiveUnits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_live_units",
			Help: "Number of polls with an in-memory tally.",
		},
	)

	// LiveSubscribers gauges open tally subscriptions.
	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_live_subscribers",
			Help: "Number of open tally subscriptions.",
		},
	)

	// TallyReloads counts full recomputations by cause
	// (initial, unknown_reference, overflow, resync, poll_changed).
	TallyReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_tally_reloads_total",
			Help: "Full tally recomputations by cause.",
		},
		[]string{"cause"},
	)

	// NotificationsDropped counts change notifications that could not be
	// queued for an aggregation unit.
	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_notifications_dropped_total",
			Help: "Change notifications dropped because a queue was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(VotesSubmitted, SubmitLatency, LiveUnits, LiveSubscribers, TallyReloads, NotificationsDropped)
}
