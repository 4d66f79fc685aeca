// Package metrics exports gateway activity as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushgw/internal/eventbus"
	"pushgw/internal/gateway"
)

const namespace = "pushgw"

// Collector owns a private registry so tests and multiple instances never
// collide on the global default registerer.
type Collector struct {
	reg *prometheus.Registry

	pushes         *prometheus.CounterVec
	responses      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	reconnectFails *prometheus.CounterVec
	up             *prometheus.GaugeVec
	delay          *prometheus.GaugeVec
	busDropped     prometheus.CounterFunc
}

// New builds a collector. bus may be nil; when set its drop counter is exported.
func New(bus eventbus.Bus) *Collector {
	c := &Collector{reg: prometheus.NewRegistry()}

	c.pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pushes_total",
		Help:      "Push attempts by connection and result (sent, rejected).",
	}, []string{"connection", "result"})

	c.responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "responses_total",
		Help:      "Normalized responses by connection and HTTP status.",
	}, []string{"connection", "status"})

	c.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "response_failures_total",
		Help:      "Completed streams whose response could not be normalized.",
	}, []string{"connection"})

	c.reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Reconnect attempts scheduled after a session was lost.",
	}, []string{"connection"})

	c.reconnectFails = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_failures_total",
		Help:      "Reopen attempts that failed.",
	}, []string{"connection"})

	c.up = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_up",
		Help:      "1 while the connection holds a live session.",
	}, []string{"connection"})

	c.delay = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconnect_delay_seconds",
		Help:      "Delay before the next scheduled reconnect attempt.",
	}, []string{"connection"})

	c.reg.MustRegister(c.pushes, c.responses, c.failures, c.reconnects, c.reconnectFails, c.up, c.delay)
	c.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if bus != nil {
		c.busDropped = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events lost to full subscriber buffers.",
		}, func() float64 { return float64(bus.Dropped()) })
		c.reg.MustRegister(c.busDropped)
	}
	return c
}

// Registry exposes the underlying registry (used by tests and the diag server).
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the collector in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run consumes gateway.* events until ctx is done or the subscription closes.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe("gateway.", 256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe applies a single bus event.
func (c *Collector) Observe(ev eventbus.Event) {
	a, ok := ev.Data.(gateway.Activity)
	if !ok {
		return
	}
	name := a.Connection
	switch ev.Type {
	case gateway.TopicStarted, gateway.TopicRestored:
		c.up.WithLabelValues(name).Set(1)
		c.delay.WithLabelValues(name).Set(0)
	case gateway.TopicClosed:
		c.up.DeleteLabelValues(name)
		c.delay.DeleteLabelValues(name)
	case gateway.TopicPushSent:
		c.pushes.WithLabelValues(name, "sent").Inc()
	case gateway.TopicPushRejected:
		c.pushes.WithLabelValues(name, "rejected").Inc()
	case gateway.TopicResponse:
		c.responses.WithLabelValues(name, strconv.Itoa(a.Status)).Inc()
	case gateway.TopicResponseFailed:
		c.failures.WithLabelValues(name).Inc()
	case gateway.TopicReconnecting:
		c.reconnects.WithLabelValues(name).Inc()
		c.up.WithLabelValues(name).Set(0)
		c.delay.WithLabelValues(name).Set(a.Delay.Seconds())
	case gateway.TopicReconnectFailed:
		c.reconnectFails.WithLabelValues(name).Inc()
		c.delay.WithLabelValues(name).Set(a.Delay.Seconds())
	}
}
