package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the chat sync core.
type Metrics struct {
	ConnectsTotal           prometheus.Counter
	ReconnectsTotal         prometheus.Counter
	ConnectionState         prometheus.Gauge // 0=disconnected 1=connecting 2=connected 3=reconnecting
	MessagesMerged          *prometheus.CounterVec
	DuplicatesDropped       prometheus.Counter
	ReconciliationConflicts prometheus.Counter
	SendFailures            prometheus.Counter
	ReceiptBatches          prometheus.Counter
	TypingSignalsActive     prometheus.Gauge
	RoomSwitches            prometheus.Counter
	ErrorsTotal             *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

// NewForTesting creates metrics on a private registry so tests can
// instantiate the core repeatedly without duplicate-registration panics.
func NewForTesting() *Metrics {
	return newWith(prometheus.NewRegistry())
}

func newWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "furnichat_connects_total",
			Help: "Successful gateway connections",
		}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "furnichat_reconnects_total",
			Help: "Reconnect attempts after a dropped connection",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "furnichat_connection_state",
			Help: "Connection state (0=disconnected 1=connecting 2=connected 3=reconnecting)",
		}),
		MessagesMerged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "furnichat_messages_merged_total",
			Help: "Messages merged into the sequence by source",
		}, []string{"source"}), // snapshot, push, local
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "furnichat_duplicates_dropped_total",
			Help: "Duplicate message events ignored during reconciliation",
		}),
		ReconciliationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "furnichat_reconciliation_conflicts_total",
			Help: "Push events discarded for violating local invariants",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "furnichat_send_failures_total",
			Help: "Optimistic sends never confirmed within the timeout",
		}),
		ReceiptBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "furnichat_receipt_batches_total",
			Help: "Batched read-receipt requests issued",
		}),
		TypingSignalsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "furnichat_typing_signals_active",
			Help: "Remote typing indicators currently visible",
		}),
		RoomSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "furnichat_room_switches_total",
			Help: "Room activations",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "furnichat_errors_total",
			Help: "Errors by type",
		}, []string{"type"}),
	}
}
