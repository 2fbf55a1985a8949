// Package telemetry exposes Prometheus metrics for the careflow server:
// HTTP request metrics from an Echo middleware, workflow transition and
// queue metrics recorded by the engine, and store pool gauges.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careflow/careflow/internal/domain/task"
)

const namespace = "careflow"

// Config holds the telemetry settings.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	// MetricsEnabled nil means enabled.
	MetricsEnabled *bool `mapstructure:"metrics_enabled"`
	// RuntimeMetrics adds the Go and process collectors.
	RuntimeMetrics bool `mapstructure:"runtime_metrics"`
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "careflow-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
}

// BoolPtr is a helper for Config.MetricsEnabled.
func BoolPtr(b bool) *bool {
	return &b
}

var durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Provider owns a registry and every careflow collector registered on it.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	transitions     *prometheus.CounterVec
	transitionTime  *prometheus.HistogramVec
	enqueued        *prometheus.CounterVec
	dbPool          *prometheus.GaugeVec
}

// NewProvider builds a provider on a fresh registry.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	p := &Provider{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method, route and status code",
			Buckets:   durationBuckets,
		}, []string{"method", "route", "code"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Requests currently being served",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow operations by kind, task role, task type and outcome",
		}, []string{"op", "role", "type", "outcome"}),
		transitionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Workflow operation duration",
			Buckets:   durationBuckets,
		}, []string{"op"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks created by role and type",
		}, []string{"role", "type"}),
		dbPool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "Store pool connections by state",
		}, []string{"state"}),
	}
	p.registry.MustRegister(p.requestDuration, p.activeRequests, p.transitions,
		p.transitionTime, p.enqueued, p.dbPool)
	p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Constant 1, labelled with the service name and version",
		ConstLabels: prometheus.Labels{"service": cfg.ServiceName, "version": cfg.ServiceVersion},
	}, func() float64 { return 1 }))
	if cfg.RuntimeMetrics {
		p.registry.MustRegister(collectors.NewGoCollector())
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return p
}

// Registry returns the underlying registry.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveTransition records one workflow operation.
func (p *Provider) ObserveTransition(op string, role task.Role, typ task.Type, outcome string, d time.Duration) {
	if !p.cfg.metricsOn() {
		return
	}
	p.transitions.WithLabelValues(op, string(role), string(typ), outcome).Inc()
	p.transitionTime.WithLabelValues(op).Observe(d.Seconds())
}

// TaskEnqueued counts a created task.
func (p *Provider) TaskEnqueued(role task.Role, typ task.Type) {
	if !p.cfg.metricsOn() {
		return
	}
	p.enqueued.WithLabelValues(string(role), string(typ)).Inc()
}

// SetDBPool records store pool usage.
func (p *Provider) SetDBPool(active, idle int64) {
	p.dbPool.WithLabelValues("active").Set(float64(active))
	p.dbPool.WithLabelValues("idle").Set(float64(idle))
}

// MetricsMiddleware records duration and concurrency for every request.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			p.requestDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}
