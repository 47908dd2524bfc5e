package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (s *Router) initMetrics() {
	s.metricsOnce.Do(func() {
		requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbeacon",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by route, method and status.",
		}, []string{"route", "method", "status"})
		requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feedbeacon",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"})
		rateLimitHits := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbeacon",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter, by route.",
		}, []string{"route"})

		if err := prometheus.Register(requestTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				requestTotal = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		if err := prometheus.Register(requestLatency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				requestLatency = are.ExistingCollector.(*prometheus.HistogramVec)
			}
		}
		if err := prometheus.Register(rateLimitHits); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				rateLimitHits = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}

		s.requestTotal = requestTotal
		s.requestLatency = requestLatency
		s.rateLimitHits = rateLimitHits
		s.metricsInitialized = true
	})
}

func (s *Router) recordRequestMetrics(route, method string, status int, elapsed time.Duration) {
	if !s.metricsInitialized {
		return
	}
	s.requestTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	s.requestLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (s *Router) recordRateLimitHit(route string) {
	if !s.metricsInitialized {
		return
	}
	s.rateLimitHits.WithLabelValues(route).Inc()
}
