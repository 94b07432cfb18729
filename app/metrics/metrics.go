// Package metrics счётчики сервиса в собственном реестре Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"altavo/types"
)

const namespace = "altavo"

type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.HistogramVec
	answers  *prometheus.CounterVec
	ingests  *prometheus.CounterVec
	chunks   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answers started, by retrieval mode.",
		}, []string{"mode"}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_files_total",
			Help:      "Uploaded files by result.",
		}, []string{"result"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_chunks_total",
			Help:      "Chunks written to user collections on upload.",
		}),
	}
	m.registry.MustRegister(m.requests, m.answers, m.ingests, m.chunks)
	return m
}

// Middleware замеряет запрос. Ошибку цепочки отдаёт ErrorHandler приложения
// сразу, чтобы статус ответа был известен.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		m.requests.WithLabelValues(
			c.Method(), c.Route().Path, strconv.Itoa(c.Response().StatusCode()),
		).Observe(time.Since(start).Seconds())
		return nil
	}
}

// Handler отдаёт метрики в текстовом формате Prometheus
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) ObserveAnswer(mode types.Mode) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) ObserveIngest(chunks int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ingests.WithLabelValues("error").Inc()
		return
	}
	m.ingests.WithLabelValues("ok").Inc()
	m.chunks.Add(float64(chunks))
}
