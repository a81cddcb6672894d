package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	failuresTotal   *prometheus.CounterVec

	apisDeployed     prometheus.Gauge
	deploymentsTotal *prometheus.CounterVec
	connectorsActive *prometheus.GaugeVec
	configReloads    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a registry with all gateway collectors registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of calls handled per API and status code",
			},
			[]string{"api", "method", "status_code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "End to end call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api"},
		),

		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_failures_total",
				Help: "Failures translated to responses by error key",
			},
			[]string{"api", "key"},
		),

		apisDeployed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_apis_deployed",
				Help: "Number of currently deployed APIs",
			},
		),

		deploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_deployments_total",
				Help: "API deploy and undeploy operations by outcome",
			},
			[]string{"action", "status"},
		),

		connectorsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_connectors_active",
				Help: "Connectors built for deployed APIs",
			},
			[]string{"api", "kind"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_config_reloads_total",
				Help: "Definition reloads by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.failuresTotal,
		m.apisDeployed,
		m.deploymentsTotal,
		m.connectorsActive,
		m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records a completed call.
func (m *Metrics) RecordRequest(api, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(api, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// RecordFailure records a failure translated to a response.
func (m *Metrics) RecordFailure(api, key string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(api, key).Inc()
}

// RecordDeployment records a deploy or undeploy attempt.
func (m *Metrics) RecordDeployment(action string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.deploymentsTotal.WithLabelValues(action, status).Inc()
}

// SetApisDeployed updates the deployed API gauge.
func (m *Metrics) SetApisDeployed(n int) {
	if m == nil {
		return
	}
	m.apisDeployed.Set(float64(n))
}

// SetConnectors updates the connector gauge of an API. kind is entrypoint or endpoint.
func (m *Metrics) SetConnectors(api, kind string, n int) {
	if m == nil {
		return
	}
	m.connectorsActive.WithLabelValues(api, kind).Set(float64(n))
}

// DeleteConnectors drops the connector gauges of an undeployed API.
func (m *Metrics) DeleteConnectors(api string) {
	if m == nil {
		return
	}
	m.connectorsActive.DeleteLabelValues(api, "entrypoint")
	m.connectorsActive.DeleteLabelValues(api, "endpoint")
}

// RecordConfigReload records a definition reload.
func (m *Metrics) RecordConfigReload(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.configReloads.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
