package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedUsersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "competition_service",
		Subsystem: "realtime",
		Name:      "connected_users",
		Help:      "Number of users with a live websocket connection.",
	})

	fanoutDeliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "competition_service",
		Subsystem: "realtime",
		Name:      "fanout_delivered_total",
		Help:      "Messages delivered to connected recipients, labeled by message type.",
	}, []string{"type"})

	fanoutDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "competition_service",
		Subsystem: "realtime",
		Name:      "fanout_dropped_total",
		Help:      "Messages dropped because the recipient had no writable channel.",
	})

	goalCompletionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "competition_service",
		Subsystem: "challenges",
		Name:      "goal_completions_total",
		Help:      "Participants who reached their challenge goal.",
	})

	battlesCompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "competition_service",
		Subsystem: "battles",
		Name:      "completed_total",
		Help:      "Battles that reached the completed state.",
	})

	battleTimerFiredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "competition_service",
		Subsystem: "battles",
		Name:      "timer_fired_total",
		Help:      "Scheduled battle timers that fired, labeled by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		connectedUsersGauge,
		fanoutDeliveredCounter,
		fanoutDroppedCounter,
		goalCompletionsCounter,
		battlesCompletedCounter,
		battleTimerFiredCounter,
	)
}

// SetConnectedUsers updates the live connection gauge.
func SetConnectedUsers(n int) {
	connectedUsersGauge.Set(float64(n))
}

// RecordFanoutDelivered counts a successful best-effort delivery.
func RecordFanoutDelivered(msgType string) {
	fanoutDeliveredCounter.WithLabelValues(msgType).Inc()
}

// RecordFanoutDropped counts a message dropped for an offline recipient.
func RecordFanoutDropped() {
	fanoutDroppedCounter.Inc()
}

// RecordGoalCompletion counts a participant reaching a challenge goal.
func RecordGoalCompletion() {
	goalCompletionsCounter.Inc()
}

// RecordBattleCompleted counts a battle reaching the completed state.
func RecordBattleCompleted() {
	battlesCompletedCounter.Inc()
}

// RecordBattleTimerFired counts a countdown or completion timer firing.
func RecordBattleTimerFired(kind string) {
	battleTimerFiredCounter.WithLabelValues(kind).Inc()
}
