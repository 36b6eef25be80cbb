package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	routedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_router_messages_total",
			Help: "Inbound protocol messages by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	fanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Per-session fan-out attempts by outcome.",
		},
		[]string{"outcome"},
	)
	pushHandoffsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_push_handoffs_total",
			Help: "Messages handed to the push notifier for offline participants.",
		},
	)
	protocolErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_protocol_errors_total",
			Help: "Inbound frames dropped because they could not be parsed.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		routedTotal,
		fanoutTotal,
		pushHandoffsTotal,
		protocolErrorsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// IncRouted counts a routed message; outcome is "accepted", "rejected" or "failed".
func IncRouted(msgType, outcome string) {
	routedTotal.WithLabelValues(msgType, outcome).Inc()
}

func IncFanout(outcome string) {
	fanoutTotal.WithLabelValues(outcome).Inc()
}

func IncPushHandoff() {
	pushHandoffsTotal.Inc()
}

func IncProtocolError() {
	protocolErrorsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
