package dispatch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics 汇总调度指标；未配置 Registerer 时为 nil，所有方法均为空操作。
type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	memoHits *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsroute",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Dispatched requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fsroute",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent in the dispatch pipeline",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		memoHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsroute",
			Subsystem: "dispatch",
			Name:      "memo_hits_total",
			Help:      "Responses served from the memo store",
		}, []string{"route"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsroute",
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Pipeline failures by kind",
		}, []string{"route", "kind"}),
	}
}

func (m *metrics) observe(routeKey, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(routeKey, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(routeKey).Observe(elapsed.Seconds())
}

func (m *metrics) memoHit(routeKey string) {
	if m == nil {
		return
	}
	m.memoHits.WithLabelValues(routeKey).Inc()
}

func (m *metrics) failure(routeKey, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(routeKey, kind).Inc()
}
