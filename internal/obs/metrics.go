package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcard_validations_total",
			Help: "Identity numbers validated, by outcome and failure reason.",
		},
		[]string{"outcome", "reason"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idcard_store_operation_duration_seconds",
			Help:    "Validation log store latencies in seconds.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcard_store_errors_total",
			Help: "Validation log store failures by operation and error kind.",
		},
		[]string{"op", "kind"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service accepts traffic.",
	})

	initOnce sync.Once
	ready    atomic.Bool
)

// Init registers every metric in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			validationsTotal, storeOpDuration, storeErrorsTotal, readyGauge,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness flag reported by /readyz and service_ready.
func SetReady(v bool) {
	ready.Store(v)
	if v {
		readyGauge.Set(1)
	} else {
		readyGauge.Set(0)
	}
}

// Ready reports the last value passed to SetReady.
func Ready() bool {
	return ready.Load()
}

// ObserveValidation counts one validation. reason is empty for valid numbers.
func ObserveValidation(valid bool, reason string) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
		reason = "none"
	}
	validationsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveStoreOp records the latency of a store call and, when kind is not
// empty, counts it as a failure of that kind.
func ObserveStoreOp(op string, d time.Duration, kind string) {
	storeOpDuration.WithLabelValues(op).Observe(d.Seconds())
	if kind != "" {
		storeErrorsTotal.WithLabelValues(op, kind).Inc()
	}
}

// Instrument measures request rate, latency and concurrency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses path parameters so metric labels stay bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	const logs = "/v1/validation-logs/"
	rest, ok := strings.CutPrefix(p, logs)
	if !ok || rest == "" {
		return p
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		switch parts[0] {
		case "recent", "stats", "stream":
			return p
		}
		return logs + ":id"
	case len(parts) == 2 && parts[0] == "by-number":
		return logs + "by-number/:number"
	case len(parts) == 2 && parts[0] == "by-actor":
		return logs + "by-actor/:actor"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
