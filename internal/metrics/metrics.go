package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's Prometheus series on its own registry.
type Collector struct {
	registry *prometheus.Registry

	attemptsStarted   *prometheus.CounterVec
	attemptsSubmitted *prometheus.CounterVec
	resultsGraded     *prometheus.CounterVec
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		attemptsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_attempts_started_total",
			Help: "Quiz attempts that entered the in-progress state.",
		}, []string{"quiz"}),
		attemptsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_attempts_submitted_total",
			Help: "Quiz attempts submitted, by reason.",
		}, []string{"quiz", "reason"}),
		resultsGraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_results_graded_total",
			Help: "Grading actions applied to results.",
		}, []string{"action"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	c.registry.MustRegister(
		c.attemptsStarted,
		c.attemptsSubmitted,
		c.resultsGraded,
		c.requests,
		c.requestDuration,
		prometheus.NewGoCollector(),
	)
	return c
}

func (c *Collector) AttemptStarted(quizID string) {
	c.attemptsStarted.WithLabelValues(quizID).Inc()
}

func (c *Collector) AttemptSubmitted(quizID, reason string) {
	c.attemptsSubmitted.WithLabelValues(quizID, reason).Inc()
}

func (c *Collector) ResultGraded(action string) {
	c.resultsGraded.WithLabelValues(action).Inc()
}

// ObserveRequest records one finished HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
