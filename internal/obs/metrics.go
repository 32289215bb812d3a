package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Match engine metrics.
var (
	matchesComputedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matches_computed_total",
		Help: "Total number of match records created by the engine.",
	})

	matchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "match_score",
		Help:    "Composite match scores on the 0-100 scale.",
		Buckets: prometheus.LinearBuckets(0, 10, 11), // [0..100]
	})

	findMatchesDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "find_matches_duration_seconds",
		Help:    "Latency of one find-matches pass.",
		Buckets: prometheus.DefBuckets,
	})

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Dispatched match notifications by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(matchesComputedTotal, matchScore, findMatchesDuration, notificationsTotal)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// MatchesComputed records n newly created match records.
func MatchesComputed(n int) {
	matchesComputedTotal.Add(float64(n))
}

// ObserveMatchScore records one composite score.
func ObserveMatchScore(score float64) {
	matchScore.Observe(score)
}

// ObserveFindMatches records the duration of one find-matches pass.
func ObserveFindMatches(d time.Duration) {
	findMatchesDuration.Observe(d.Seconds())
}

// NotificationSent counts a successful dispatch.
func NotificationSent() { notificationsTotal.WithLabelValues("sent").Inc() }

// NotificationFailed counts a failed dispatch.
func NotificationFailed() { notificationsTotal.WithLabelValues("failed").Inc() }
