package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Connections   prometheus.Gauge
	OnlineUsers   prometheus.Gauge
	InboundEvents *prometheus.CounterVec
	Messages      prometheus.Counter
	Dropped       *prometheus.CounterVec
	SlowKicks     prometheus.Counter
	Throttled     prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_online_users",
			Help: "Users with at least one live connection",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_inbound_events_total",
			Help: "Inbound websocket events by type",
		}, []string{"type"}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted through the pipeline",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_dropped_total",
			Help: "Outbound events dropped because a recipient queue was full",
		}, []string{"type"}),
		SlowKicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_slow_consumer_disconnects_total",
			Help: "Connections closed because they could not keep up",
		}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_inbound_throttled_total",
			Help: "Inbound frames refused by the per-connection rate limit",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Connections, m.OnlineUsers, m.InboundEvents, m.Messages, m.Dropped, m.SlowKicks, m.Throttled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for Prometheus scraping.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
