package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Metrics
//
// These metrics track session lifecycle and membership. Use them to watch
// how many rooms are live, how fast they churn, and why they go away.

var (
	// SessionsTotal counts created sessions.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beam_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	// SessionsEnded counts deleted sessions by reason.
	// Labels: reason (ttl, memory-pressure, explicit)
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_sessions_ended_total",
			Help: "Total number of sessions deleted by reason",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beam_active_sessions",
			Help: "Number of live sessions",
		},
	)

	// ActiveMembers tracks connections currently bound to a session.
	ActiveMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beam_active_members",
			Help: "Number of connections currently joined to a session",
		},
	)

	// MessagesTotal counts accepted chat messages.
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beam_messages_total",
			Help: "Total number of accepted messages",
		},
	)
)
