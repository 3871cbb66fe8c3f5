package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the bot. It is created once in
// main and passed explicitly to the components that record into it.
type Metrics struct {
	pollsTotal        *prometheus.CounterVec
	transactionsSeen  prometheus.Counter
	deliveriesTotal   *prometheus.CounterVec
	subscribersPruned prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	reportsTotal      *prometheus.CounterVec
}

// New creates a Metrics instance and registers all collectors. If registry is
// nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		pollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethwatch_polls_total",
				Help: "Total number of ledger polls by outcome",
			},
			[]string{"outcome"},
		),
		transactionsSeen: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ethwatch_transactions_seen_total",
				Help: "Total number of newly observed transactions",
			},
		),
		deliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethwatch_deliveries_total",
				Help: "Total number of per-recipient message deliveries by status",
			},
			[]string{"status"},
		),
		subscribersPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ethwatch_subscribers_pruned_total",
				Help: "Total number of subscribers removed after a permanent delivery failure",
			},
		),
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethwatch_commands_total",
				Help: "Total number of processed chat commands",
			},
			[]string{"command"},
		),
		reportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethwatch_reports_total",
				Help: "Total number of scheduled status reports sent",
			},
			[]string{"kind"},
		),
	}
}

// RecordPoll records one poll attempt with its outcome and how many new
// transactions it surfaced.
func (m *Metrics) RecordPoll(outcome string, newTransactions int) {
	m.pollsTotal.WithLabelValues(outcome).Inc()
	if newTransactions > 0 {
		m.transactionsSeen.Add(float64(newTransactions))
	}
}

// RecordDelivery records a per-recipient delivery attempt.
func (m *Metrics) RecordDelivery(status string) {
	m.deliveriesTotal.WithLabelValues(status).Inc()
}

// RecordPrune records the removal of an unreachable subscriber.
func (m *Metrics) RecordPrune() {
	m.subscribersPruned.Inc()
}

// RecordCommand records a dispatched chat command.
func (m *Metrics) RecordCommand(command string) {
	m.commandsTotal.WithLabelValues(command).Inc()
}

// RecordReport records a sent hourly or daily report.
func (m *Metrics) RecordReport(kind string) {
	m.reportsTotal.WithLabelValues(kind).Inc()
}
