package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Every series carries a "service" label set once with SetService.

var (
	registry = prometheus.NewRegistry()

	serviceMu sync.RWMutex
	service   = "unknown"

	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	// Database metrics
	dbPoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_used",
			Help: "Number of database connections in use",
		},
		[]string{"service"},
	)

	dbPoolConnectionsMax = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_max",
			Help: "Maximum number of database connections",
		},
		[]string{"service"},
	)

	// Kafka metrics
	kafkaMessagesProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total number of Kafka messages produced",
		},
		[]string{"service", "topic"},
	)

	kafkaMessagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total number of Kafka messages consumed",
		},
		[]string{"service", "topic", "consumer_group"},
	)

	kafkaMessageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_message_outcomes_total",
			Help: "Messages by handling outcome (handled, retried, dead_lettered)",
		},
		[]string{"service", "topic", "consumer_group", "outcome"},
	)

	kafkaMessageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_handle_duration_seconds",
			Help:    "Time spent in a message handler",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service", "topic"},
	)

	// Task metrics
	tasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_dispatched_total",
			Help: "Tasks handed to the broker",
		},
		[]string{"service", "topic", "action"},
	)

	tasksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_dropped_total",
			Help: "Tasks dropped because dispatching is disabled",
		},
		[]string{"service", "topic"},
	)

	tasksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_skipped_total",
			Help: "Tasks skipped as superseded or redundant",
		},
		[]string{"service", "topic", "reason"},
	)

	// Auth metrics
	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Completed auth attempts by method and outcome",
		},
		[]string{"service", "method", "outcome"},
	)
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(httpRequestsTotal)
	registry.MustRegister(httpRequestDuration)

	registry.MustRegister(dbPoolConnections)
	registry.MustRegister(dbPoolConnectionsMax)

	registry.MustRegister(kafkaMessagesProduced)
	registry.MustRegister(kafkaMessagesConsumed)
	registry.MustRegister(kafkaMessageOutcomes)
	registry.MustRegister(kafkaMessageDuration)

	registry.MustRegister(tasksDispatched)
	registry.MustRegister(tasksDropped)
	registry.MustRegister(tasksSkipped)

	registry.MustRegister(authAttempts)
}

// SetService sets the service label recorded on every series.
func SetService(name string) {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	service = name
}

func svc() string {
	serviceMu.RLock()
	defer serviceMu.RUnlock()
	return service
}

func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the OpenMetrics format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}

type Config struct {
	// SkipPaths are path prefixes that are not recorded.
	SkipPaths []string
}

// Middleware records request counts and latency labelled by route pattern,
// so /v1/diagnostics/:runId is one series regardless of the id.
func Middleware(cfg Config) fiber.Handler {
	skip := func(path string) bool {
		for _, p := range cfg.SkipPaths {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(c *fiber.Ctx) error {
		if skip(c.Path()) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		method := c.Method()
		path := c.Route().Path

		httpRequestsTotal.WithLabelValues(svc(), method, path, status).Inc()
		httpRequestDuration.WithLabelValues(svc(), method, path).Observe(duration)

		return err
	}
}

func RecordDBPoolStats(used, max int) {
	dbPoolConnections.WithLabelValues(svc()).Set(float64(used))
	dbPoolConnectionsMax.WithLabelValues(svc()).Set(float64(max))
}

func RecordKafkaMessageProduced(topic string) {
	kafkaMessagesProduced.WithLabelValues(svc(), topic).Inc()
}

func RecordKafkaMessageConsumed(topic, consumerGroup string) {
	kafkaMessagesConsumed.WithLabelValues(svc(), topic, consumerGroup).Inc()
}

// RecordMessageOutcome records what the retry router did with a message.
func RecordMessageOutcome(topic, consumerGroup, outcome string) {
	kafkaMessageOutcomes.WithLabelValues(svc(), topic, consumerGroup, outcome).Inc()
}

func ObserveMessageDuration(topic string, d time.Duration) {
	kafkaMessageDuration.WithLabelValues(svc(), topic).Observe(d.Seconds())
}

func RecordTaskDispatched(topic, action string) {
	tasksDispatched.WithLabelValues(svc(), topic, action).Inc()
}

func RecordTaskDropped(topic string) {
	tasksDropped.WithLabelValues(svc(), topic).Inc()
}

func RecordTaskSkipped(topic, reason string) {
	tasksSkipped.WithLabelValues(svc(), topic, reason).Inc()
}

// RecordAuthAttempt records one finished auth attempt; outcome is
// "success", "rejected" or "failed".
func RecordAuthAttempt(method, outcome string) {
	authAttempts.WithLabelValues(svc(), method, outcome).Inc()
}
