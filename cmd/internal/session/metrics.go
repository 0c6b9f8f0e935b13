package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_sessions_issued_total",
		Help: "Session credentials issued.",
	})

	metricRotated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_sessions_rotated_total",
		Help: "Successful refresh rotations.",
	})

	metricRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_sessions_revoked_total",
		Help: "Credentials revoked by caller request.",
	})

	metricRotationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_rotation_conflicts_total",
		Help: "Rotations that lost the conditional-update race.",
	})

	metricDuplicateHash = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_duplicate_token_hash_total",
		Help: "Token-hash collisions observed at insert.",
	})
)
