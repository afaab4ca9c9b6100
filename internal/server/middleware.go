package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
)

func init() {
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prospector",
		Name:      "http_requests_total",
		Help:      "HTTP requests by status code, method and route",
	},
		[]string{"code", "method", "path"},
	)
	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prospector",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by status code, method and route",
		Buckets:   []float64{0.05, 0.25, 1, 5, 30, 120, 600},
	},
		[]string{"code", "method", "path"},
	)

	prometheus.MustRegister(httpRequests, httpLatency)
}

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			return
		}
		pattern := rctx.RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		code := strconv.Itoa(ww.Status())
		httpRequests.WithLabelValues(code, r.Method, pattern).Inc()
		httpLatency.WithLabelValues(code, r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// requestLogger logs each completed request, at warn for 4xx and error for
// 5xx responses.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			zap.Int("status", ww.Status()),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.Int("response_bytes", ww.BytesWritten()),
		}
		log := zap.L().Named("http")
		switch {
		case ww.Status() >= 500:
			log.Error("request completed", fields...)
		case ww.Status() >= 400:
			log.Warn("request completed", fields...)
		default:
			log.Info("request completed", fields...)
		}
	})
}
