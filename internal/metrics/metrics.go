package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iot_dashboard"

// Message results
const (
	ResultStored  = "stored"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
	ResultSent    = "sent"
	ResultRefused = "refused"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messages     *prometheus.CounterVec
	samples      prometheus.Counter
	httpRequests *prometheus.CounterVec
	otaCommands  *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_messages_total",
			Help:      "Telemetry messages received over MQTT, by result.",
		}, []string{"result"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_stored_total",
			Help:      "Sensor samples written to TimescaleDB.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		otaCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ota_commands_total",
			Help:      "OTA trigger attempts, by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.messages, m.samples, m.httpRequests, m.otaCommands)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMessage counts one telemetry message and the samples it stored
func (m *Metrics) ObserveMessage(result string, samples int) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
	if samples > 0 {
		m.samples.Add(float64(samples))
	}
}

// ObserveRequest counts one HTTP request
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// ObserveOTA counts one OTA trigger attempt
func (m *Metrics) ObserveOTA(result string) {
	if m == nil {
		return
	}
	m.otaCommands.WithLabelValues(result).Inc()
}
