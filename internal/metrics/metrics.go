package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-side chat metrics
var (
	// Messages accepted into a message store, by source
	MessagesUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "store",
			Name:      "messages_upserted_total",
			Help:      "Messages inserted or replaced in the message store",
		},
		[]string{"source"},
	)

	// Entries dropped from an upsert batch because they failed validation
	MessagesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "store",
			Name:      "messages_rejected_total",
			Help:      "Malformed messages skipped during upsert",
		},
	)

	// Outgoing message submissions, by outcome
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "session",
			Name:      "sends_total",
			Help:      "Outgoing message submissions",
		},
		[]string{"status"},
	)

	// Session lifecycle transitions
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		},
		[]string{"to"},
	)

	// Listener notifications delivered, by event
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "hub",
			Name:      "notifications_total",
			Help:      "Listener callbacks invoked",
		},
		[]string{"event"},
	)

	// Best-effort events dropped under backpressure
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a queue was full",
		},
		[]string{"event"},
	)

	// Typing statuses sent or throttled
	TypingSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "typing",
			Name:      "statuses_total",
			Help:      "Outbound typing statuses, by outcome",
		},
		[]string{"outcome"},
	)

	// Poll cycles, by outcome
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "polling",
			Name:      "polls_total",
			Help:      "Session poll cycles",
		},
		[]string{"kind", "status"},
	)
)
