package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FixesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waygazer_fixes_accepted_total",
		Help: "Accepted fixes per acquisition mode",
	}, []string{"mode"})
	FixesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waygazer_fixes_dropped_total",
		Help: "Fixes dropped by the software throttle",
	})
	ProviderErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waygazer_provider_errors_total",
		Help: "One-shot fix requests that returned no fix",
	})
	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waygazer_matches_total",
		Help: "Map matching outcomes",
	}, []string{"outcome"}) // matched / unmatched
	SegmentTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waygazer_segment_transitions_total",
		Help: "Committed segment index transitions",
	})
	MatchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waygazer_match_confidence",
		Help:    "Confidence of committed matches",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
	RouteRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waygazer_route_refreshes_total",
		Help: "Route graph refresh attempts by result",
	}, []string{"result"}) // ok / failed / invalid
	SpeedLimitAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waygazer_speed_limit_alerts_total",
		Help: "Speed limit alert events by kind",
	}, []string{"kind"})
	GrantRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waygazer_background_grant_renewals_total",
		Help: "Background execution grant renewals",
	})
	GrantDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waygazer_background_grant_denied_total",
		Help: "Background execution grants denied by the platform",
	})
)
