package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface metrics.
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

// Portal-specific metric families.
var (
	realtimeReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnects_total",
		Help: "Realtime channel rebinds triggered by credential rotation or transport loss.",
	})

	realtimeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_channel_state",
			Help: "Current realtime channel state (1 for the active state).",
		},
		[]string{"state"},
	)

	guardDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_denials_total",
			Help: "Access denials by requirement kind.",
		},
		[]string{"kind"},
	)

	proxyUpstream = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_responses_total",
			Help: "Upstream responses forwarded by the proxy, by status class.",
		},
		[]string{"status_class"},
	)

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Active notification stream subscribers.",
	})
)

// Init registers all metric families in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		realtimeReconnects, realtimeState, guardDenials,
		proxyUpstream, streamSubscribers,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RealtimeReconnect counts one channel rebind.
func RealtimeReconnect() { realtimeReconnects.Inc() }

// RealtimeState marks the active channel state.
func RealtimeState(state string) {
	for _, s := range []string{"disconnected", "connecting", "connected", "reconnecting"} {
		v := 0.0
		if s == state {
			v = 1
		}
		realtimeState.WithLabelValues(s).Set(v)
	}
}

// GuardDenial counts one denial for the given requirement kind.
func GuardDenial(kind string) { guardDenials.WithLabelValues(kind).Inc() }

// ProxyResponse counts one forwarded upstream response.
func ProxyResponse(status int) {
	class := strconv.Itoa(status/100) + "xx"
	proxyUpstream.WithLabelValues(class).Inc()
}

// StreamSubscribers records the active subscriber count.
func StreamSubscribers(n int) { streamSubscribers.Set(float64(n)) }

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
