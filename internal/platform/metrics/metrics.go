// Package metrics provides Prometheus metrics for a sweep run. A sweep is a
// short-lived process, so metrics live in a private registry and are exported
// once at exit through the node_exporter textfile format.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels shared by the counters below.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultFailed   = "failed"
	ResultStale    = "stale"
)

// Metrics holds all Prometheus metrics for the sweeper.
type Metrics struct {
	registry *prometheus.Registry

	TenantSessions prometheus.Gauge         // Sessions held by the registry after the last login
	TenantAuth     *prometheus.CounterVec   // Tenant authentications by result
	Lookups        *prometheus.CounterVec   // Cross-tenant lookups by kind and result
	TenantsScanned *prometheus.HistogramVec // Sessions queried per lookup
	Actions        *prometheus.CounterVec   // Mutating actions by kind and result

	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TenantSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sweeper_tenant_sessions",
			Help: "Number of authenticated tenant sessions held by the registry",
		}),
		TenantAuth: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_tenant_auth_total",
			Help: "Tenant authentication attempts by result",
		}, []string{"result"}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_lookups_total",
			Help: "Cross-tenant lookups by record kind and result",
		}, []string{"kind", "result"}),
		TenantsScanned: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sweeper_lookup_tenants_scanned",
			Help:    "Number of tenant sessions queried per lookup",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}, []string{"kind"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_actions_total",
			Help: "Mutating actions by record kind and result",
		}, []string{"kind", "result"}),
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_api_requests_total",
			Help: "Falcon API requests by operation and HTTP status code",
		}, []string{"operation", "code"}),
		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sweeper_api_request_duration_seconds",
			Help:    "Falcon API request latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Registry exposes the underlying registry, e.g. for testutil gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAuth records one tenant authentication attempt.
func (m *Metrics) RecordAuth(result string) {
	m.TenantAuth.WithLabelValues(result).Inc()
}

// SetSessions updates the tenant session gauge.
func (m *Metrics) SetSessions(n int) {
	m.TenantSessions.Set(float64(n))
}

// RecordLookup records the outcome of a cross-tenant lookup and how many
// sessions were queried to reach it.
func (m *Metrics) RecordLookup(kind, result string, scanned int) {
	m.Lookups.WithLabelValues(kind, result).Inc()
	m.TenantsScanned.WithLabelValues(kind).Observe(float64(scanned))
}

// RecordAction records the outcome of a mutating action.
func (m *Metrics) RecordAction(kind, result string) {
	m.Actions.WithLabelValues(kind, result).Inc()
}

// ObserveAPIRequest records one Falcon API round-trip. A zero status code
// marks a request that never got a response.
func (m *Metrics) ObserveAPIRequest(operation string, statusCode int, seconds float64) {
	code := "none"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.APIRequests.WithLabelValues(operation, code).Inc()
	m.APIRequestDuration.WithLabelValues(operation).Observe(seconds)
}

// WriteTextfile writes every metric to path in the Prometheus text format,
// atomically, for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
