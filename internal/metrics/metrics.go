package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rental_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rental_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rental_messages_sent_total",
			Help: "Total messages stored",
		},
		[]string{"kind"},
	)

	ReactionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rental_reaction_changes_total",
			Help: "Reaction mutations that changed a message",
		},
		[]string{"op"}, // "add" or "remove"
	)

	VoiceProbeFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rental_voice_probe_fallbacks_total",
			Help: "Voice notes whose duration was estimated",
		},
		[]string{"container"},
	)

	ConversationListFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rental_conversation_list_failures_total",
			Help: "Conversation list requests answered with an empty list after an internal error",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rental_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
