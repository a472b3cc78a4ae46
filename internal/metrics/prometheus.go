package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the direct path. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec

	// Replica metrics
	ReplicaCalls        *prometheus.CounterVec
	ReplicaCallDuration *prometheus.HistogramVec

	// Consistency metrics
	QuorumOutcomes *prometheus.CounterVec
	BarrierRounds  *prometheus.HistogramVec

	// Address cache metrics
	AddressRefreshes       *prometheus.CounterVec
	BackgroundRefreshQueue prometheus.Gauge

	// Transport metrics
	RntbdConnectionsActive prometheus.Gauge
}

// NewMetrics creates Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directclient_operations_total",
				Help: "Total number of logical operations completed",
			},
			[]string{"operation", "consistency", "status"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "directclient_operation_duration_seconds",
				Help:    "Duration of logical operations including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "consistency"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directclient_retries_total",
				Help: "Total number of retries by triggering error kind",
			},
			[]string{"error_kind"},
		),

		ReplicaCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directclient_replica_calls_total",
				Help: "Total number of transport calls to replicas",
			},
			[]string{"protocol", "status"},
		),

		ReplicaCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "directclient_replica_call_duration_seconds",
				Help:    "Duration of transport calls to replicas",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),

		QuorumOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directclient_quorum_outcomes_total",
				Help: "Total number of quorum read rounds by outcome",
			},
			[]string{"outcome"},
		),

		BarrierRounds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "directclient_barrier_rounds",
				Help:    "Number of barrier rounds needed to reach the target LSN",
				Buckets: []float64{1, 2, 3, 4, 6, 10, 20, 30},
			},
			[]string{"kind", "result"},
		),

		AddressRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directclient_address_refreshes_total",
				Help: "Total number of address resolutions that went to the routing source",
			},
			[]string{"reason", "result"},
		),

		BackgroundRefreshQueue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "directclient_background_refresh_queue_size",
				Help: "Current number of queued background address refreshes",
			},
		),

		RntbdConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "directclient_rntbd_connections_active",
				Help: "Number of open binary protocol connections",
			},
		),
	}
}

// RecordOperation records a completed logical operation
func (m *Metrics) RecordOperation(operation, consistency, status string, duration float64) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, consistency, status).Inc()
	m.OperationDuration.WithLabelValues(operation, consistency).Observe(duration)
}

// RecordRetry records a retry decision
func (m *Metrics) RecordRetry(errorKind string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(errorKind).Inc()
}

// RecordReplicaCall records one transport call
func (m *Metrics) RecordReplicaCall(protocol, status string, duration float64) {
	if m == nil {
		return
	}
	m.ReplicaCalls.WithLabelValues(protocol, status).Inc()
	m.ReplicaCallDuration.WithLabelValues(protocol).Observe(duration)
}

// RecordQuorumOutcome records the outcome of a quorum read round
func (m *Metrics) RecordQuorumOutcome(outcome string) {
	if m == nil {
		return
	}
	m.QuorumOutcomes.WithLabelValues(outcome).Inc()
}

// RecordBarrier records how many rounds a read or write barrier took
func (m *Metrics) RecordBarrier(kind, result string, rounds int) {
	if m == nil {
		return
	}
	m.BarrierRounds.WithLabelValues(kind, result).Observe(float64(rounds))
}

// RecordAddressRefresh records a resolution against the routing source
func (m *Metrics) RecordAddressRefresh(reason, result string) {
	if m == nil {
		return
	}
	m.AddressRefreshes.WithLabelValues(reason, result).Inc()
}

// UpdateBackgroundRefreshQueue updates the background refresh queue size
func (m *Metrics) UpdateBackgroundRefreshQueue(size int) {
	if m == nil {
		return
	}
	m.BackgroundRefreshQueue.Set(float64(size))
}

// AddRntbdConnections adjusts the open connection gauge by delta
func (m *Metrics) AddRntbdConnections(delta int) {
	if m == nil {
		return
	}
	m.RntbdConnectionsActive.Add(float64(delta))
}
