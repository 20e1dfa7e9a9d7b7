// Package metrics holds the Prometheus collectors for the cache tiers and the
// chat quota, registered on a dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tier and result label values.
const (
	TierLocal  = "local"
	TierRemote = "remote"
	TierOrigin = "origin"

	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultError   = "error"
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	// CacheLookups counts reads per resource ("problem", "count", "tags",
	// "search"), tier and result.
	CacheLookups *prometheus.CounterVec

	// CacheInvalidations counts write-triggered invalidations per resource.
	CacheInvalidations *prometheus.CounterVec

	// QuotaDecisions counts chat quota checks by result ("allowed", "denied", "error").
	QuotaDecisions *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Catalog cache lookups by resource, tier and result.",
			},
			[]string{"resource", "tier", "result"},
		),
		CacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_invalidations_total",
				Help: "Cache invalidations triggered by catalog writes.",
			},
			[]string{"resource"},
		),
		QuotaDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_decisions_total",
				Help: "Chat quota decisions by result.",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) Lookup(resource, tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(resource, tier, result).Inc()
}

func (m *Metrics) Invalidation(resource string) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(resource).Inc()
}

func (m *Metrics) QuotaDecision(result string) {
	if m == nil {
		return
	}
	m.QuotaDecisions.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
