package retention

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRowsDeleted        = "retention_rows_deleted_total"
	MetricRowsAnonymized     = "retention_rows_anonymized_total"
	MetricRetries            = "retention_statement_retries_total"
	MetricLastCycleTimestamp = "retention_last_cycle_timestamp"
	MetricLastCycleUserCount = "retention_last_cycle_user_count"
)

// Table labels for MetricRowsDeleted.
const (
	TableRoutePoints    = "route_points"
	TableGeofenceEvents = "geofence_events"
)

// Metrics contains Prometheus metrics for retention enforcement.
// All operations are thread-safe and safe to call on a nil receiver.
type Metrics struct {
	rowsDeleted        *prometheus.CounterVec
	rowsAnonymized     prometheus.Counter
	retries            *prometheus.CounterVec
	lastCycleTimestamp prometheus.Gauge
	lastCycleUserCount prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		rowsDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRowsDeleted,
				Help: "Total number of history rows deleted by retention cleanup",
			},
			[]string{"table"},
		),
		rowsAnonymized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRowsAnonymized,
			Help: "Total number of route points degraded to approximate precision",
		}),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetries,
				Help: "Total number of retried retention statements",
			},
			[]string{"operation"},
		),
		lastCycleTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastCycleTimestamp,
			Help: "Unix timestamp of the last completed retention cycle",
		}),
		lastCycleUserCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastCycleUserCount,
			Help: "Number of users processed in the last retention cycle",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all metric collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rowsDeleted,
		m.rowsAnonymized,
		m.retries,
		m.lastCycleTimestamp,
		m.lastCycleUserCount,
	}
}

// AddRowsDeleted adds n deleted rows for table.
func (m *Metrics) AddRowsDeleted(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsDeleted.WithLabelValues(table).Add(float64(n))
}

// AddRowsAnonymized adds n anonymized route points.
func (m *Metrics) AddRowsAnonymized(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsAnonymized.Add(float64(n))
}

// IncRetries increments the retry counter for operation.
func (m *Metrics) IncRetries(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// SetLastCycle records completion of a scheduled cycle.
func (m *Metrics) SetLastCycle(timestamp float64, users int) {
	if m == nil {
		return
	}
	m.lastCycleTimestamp.Set(timestamp)
	m.lastCycleUserCount.Set(float64(users))
}
