package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/rtlmtr/internal/gateway"
	"github.com/AlexKimmel/rtlmtr/internal/ratelimit"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec
	SweptTotal      prometheus.Counter
}

// NewMetrics registers the collectors on reg. trackedKeys reports the
// current number of buckets held by the store.
func NewMetrics(reg prometheus.Registerer, trackedKeys func() int) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtlmtr_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rtlmtr_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtlmtr_decisions_total",
				Help: "Admission decisions by outcome",
			},
			[]string{"outcome"},
		),
		SweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtlmtr_buckets_swept_total",
				Help: "Total idle buckets removed by the sweeper",
			},
		),
	}

	tracked := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rtlmtr_buckets",
			Help: "Number of keys currently holding a bucket",
		},
		func() float64 { return float64(trackedKeys()) },
	)

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Decisions, m.SweptTotal, tracked)
	return m
}

func (m *Metrics) RecordDecision(d ratelimit.Decision) {
	outcome := "admitted"
	if !d.Allowed {
		outcome = "denied"
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSwept(n int) {
	m.SweptTotal.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records per-request metrics, skipping the given paths.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
