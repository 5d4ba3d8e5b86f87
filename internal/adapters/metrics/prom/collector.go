// Package prom exposes the latest homeserver sample as Prometheus gauges.
package prom

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/ports"
)

var (
	roomsDesc = prometheus.NewDesc(
		"synapse_total_rooms",
		"Total number of rooms in Synapse server",
		nil, nil,
	)
	usersDesc = prometheus.NewDesc(
		"synapse_total_users",
		"Total number of users in Synapse server",
		nil, nil,
	)
)

// Collector keeps the last published Sample. Both gauges of a scrape come from
// the same Sample.
type Collector struct {
	latest atomic.Pointer[domain.Sample]
}

var (
	_ ports.MetricsSink    = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// NewCollector returns a Collector reporting zero for both gauges until the first Publish.
func NewCollector() *Collector {
	c := &Collector{}
	c.latest.Store(&domain.Sample{})
	return c
}

// Publish replaces the exposed sample.
func (c *Collector) Publish(s domain.Sample) {
	c.latest.Store(&s)
}

// Latest returns the currently exposed sample.
func (c *Collector) Latest() domain.Sample {
	return *c.latest.Load()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- roomsDesc
	ch <- usersDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.latest.Load()
	ch <- prometheus.MustNewConstMetric(roomsDesc, prometheus.GaugeValue, float64(s.Rooms))
	ch <- prometheus.MustNewConstMetric(usersDesc, prometheus.GaugeValue, float64(s.Users))
}

// Registry is a dedicated registry that only carries the exporter's gauges.
type Registry struct {
	reg       *prometheus.Registry
	collector *Collector
}

// NewRegistry registers a fresh Collector on its own registry.
func NewRegistry() *Registry {
	c := NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return &Registry{reg: reg, collector: c}
}

// Sink is where the poll loop publishes samples.
func (r *Registry) Sink() *Collector {
	return r.collector
}

// Gatherer exposes the underlying registry for tests and handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the text exposition of the registry.
func (r *Registry) Handler(errLog promhttp.Logger) http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		ErrorLog:      errLog,
		ErrorHandling: promhttp.ContinueOnError,
	})
}
