package privacy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSettingsCacheLookups = "privacy_settings_cache_lookups_total"
	MetricAccessDecisions      = "privacy_access_decisions_total"
	MetricDisclosures          = "privacy_disclosures_total"
)

// Cache lookup results.
const (
	CacheResultHit     = "hit"
	CacheResultMiss    = "miss"
	CacheResultError   = "error"
	CacheResultCorrupt = "corrupt"
)

// Metrics contains Prometheus metrics for the privacy engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	accessDecisions *prometheus.CounterVec
	disclosures     *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSettingsCacheLookups,
				Help: "Privacy settings cache lookups by result",
			},
			[]string{"result"},
		),
		accessDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAccessDecisions,
				Help: "Location access decisions by context and decision",
			},
			[]string{"context", "decision"},
		),
		disclosures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDisclosures,
				Help: "Location disclosures by resulting representation",
			},
			[]string{"representation"},
		),
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

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cacheLookups,
		m.accessDecisions,
		m.disclosures,
	}
}

// IncCacheLookup counts a settings cache lookup.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// IncAccessDecision counts an access decision.
func (m *Metrics) IncAccessDecision(accessCtx AccessContext, decision string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(accessCtx.String(), decision).Inc()
}

// IncDisclosure counts a disclosure by representation (exact, approximate, city, refused).
func (m *Metrics) IncDisclosure(representation string) {
	if m == nil {
		return
	}
	m.disclosures.WithLabelValues(representation).Inc()
}
