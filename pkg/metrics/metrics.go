package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered with the default registry through promauto.
var (
	// --- Election Metrics ---

	// RoleTransitions counts role changes reported to listeners.
	RoleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ftmsg",
			Subsystem: "election",
			Name:      "role_transitions_total",
			Help:      "Total number of role transitions by cluster and new role",
		},
		[]string{"cluster", "role"},
	)

	// ActiveMember is 1 while the member holds the active role.
	ActiveMember = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ftmsg",
			Subsystem: "election",
			Name:      "active",
			Help:      "Whether this member is the active member of the cluster",
		},
		[]string{"cluster", "member"},
	)

	// HeartbeatsSent counts heartbeat publishes by outcome.
	HeartbeatsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ftmsg",
			Subsystem: "election",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats published by outcome",
		},
		[]string{"cluster", "result"},
	)

	// StateRecoveries counts stateful activations by browse outcome.
	StateRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ftmsg",
			Subsystem: "election",
			Name:      "state_recoveries_total",
			Help:      "Stateful activations by outcome (found, empty, error)",
		},
		[]string{"cluster", "result"},
	)

	// --- Broker Metrics ---

	// MessagesPublished counts messages spooled per queue.
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ftmsg",
			Subsystem: "broker",
			Name:      "messages_published_total",
			Help:      "Total messages spooled per queue",
		},
		[]string{"queue"},
	)

	// MessagesDelivered counts messages handed to flows.
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ftmsg",
			Subsystem: "broker",
			Name:      "messages_delivered_total",
			Help:      "Total messages delivered to flows per queue",
		},
		[]string{"queue"},
	)

	// FlowsBound tracks bound flows per queue.
	FlowsBound = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ftmsg",
			Subsystem: "broker",
			Name:      "flows_bound",
			Help:      "Number of flows bound per queue",
		},
		[]string{"queue"},
	)

	// FlowEvents counts active/inactive indications emitted.
	FlowEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ftmsg",
			Subsystem: "broker",
			Name:      "flow_events_total",
			Help:      "Total flow events emitted per queue and event",
		},
		[]string{"queue", "event"},
	)
)

// RecordRole records a transition into role for a member of cluster.
func RecordRole(cluster, member, role string) {
	RoleTransitions.WithLabelValues(cluster, role).Inc()
	if role == "active" {
		ActiveMember.WithLabelValues(cluster, member).Set(1)
	} else {
		ActiveMember.WithLabelValues(cluster, member).Set(0)
	}
}
