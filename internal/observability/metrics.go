package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/contractgate/contractgate/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	violationsTotal    *prometheus.CounterVec
	ratelimitHitsTotal *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	requestDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "contractgate_requests_total", Help: "Total requests"},
			[]string{"route", "outcome", "code"},
		),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "contractgate_violations_total", Help: "Total contract violations"},
			[]string{"route", "phase", "type"},
		),
		ratelimitHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "contractgate_ratelimit_hits_total", Help: "Total rate limit hits"},
			[]string{"route", "key"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contractgate_validation_duration_seconds",
				Help:    "Time spent inside the validation engine per pass",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"phase"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contractgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.requestsTotal,
		m.violationsTotal,
		m.ratelimitHitsTotal,
		m.validationDuration,
		m.requestDuration,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveValidation records one engine call.
func (m *Metrics) ObserveValidation(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.validationDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) Observe(decision logging.Decision, ratelimitKey string) {
	if m == nil {
		return
	}

	route := decision.RouteID

	m.requestsTotal.WithLabelValues(route, decision.Outcome, strconv.Itoa(decision.StatusCode)).Inc()
	m.requestDuration.WithLabelValues(route).Observe((time.Duration(decision.DurationMS) * time.Millisecond).Seconds())

	if v := decision.Violation; v != nil {
		m.violationsTotal.WithLabelValues(route, v.Phase, v.Type).Inc()
	}

	if decision.RateLimited {
		m.ratelimitHitsTotal.WithLabelValues(route, ratelimitKey).Inc()
	}
}
