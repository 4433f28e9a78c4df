// Package metrics exposes Prometheus counters for prompt synthesis, image
// rendering and the HTTP surface. A nil *Collector records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lynchvision"

type Collector struct {
	registry prometheus.Gatherer

	promptsTotal   *prometheus.CounterVec
	rendersTotal   *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, with the Go runtime and
// process collectors alongside.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		registry: gatherer,
		promptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prompts_total",
				Help:      "Prompt synthesis requests by mode and result",
			},
			[]string{"mode", "result"},
		),
		rendersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Image render outcomes by renderer and terminal status",
			},
			[]string{"renderer", "status"},
		),
		renderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Time from render start to terminal outcome",
				Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"renderer"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
	}
}

func (c *Collector) RecordPrompt(mode string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.promptsTotal.WithLabelValues(mode, result).Inc()
}

func (c *Collector) RecordRender(renderer, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.rendersTotal.WithLabelValues(renderer, status).Inc()
	c.renderDuration.WithLabelValues(renderer).Observe(d.Seconds())
}

func (c *Collector) RecordHTTPRequest(method, route string, code int) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
