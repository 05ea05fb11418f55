package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge

	backfillPagesTotal          prometheus.Counter
	backfillConvertedTotal      prometheus.Counter
	backfillCommitFailuresTotal prometheus.Counter
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before the store is loaded or a backfill runs, or their
// metrics are silently dropped. Only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_encryption_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_encryption_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_encryption_store_latency_seconds",
			Help:    "Chat store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_encryption_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_encryption_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})

	backfillPagesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_encryption_backfill_pages_total",
		Help: "Chat pages fetched by the encryption backfill",
	})

	backfillConvertedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_encryption_backfill_converted_total",
		Help: "Plaintext chats encrypted by the backfill",
	})

	backfillCommitFailuresTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_encryption_backfill_commit_failures_total",
		Help: "Backfill page commits that failed and were rolled back",
	})
}

// RecordBackfillPage counts one fetched page. No-op before InitMetrics.
func RecordBackfillPage() {
	if backfillPagesTotal != nil {
		backfillPagesTotal.Inc()
	}
}

// RecordBackfillConverted adds n committed conversions. No-op before InitMetrics.
func RecordBackfillConverted(n int) {
	if backfillConvertedTotal != nil && n > 0 {
		backfillConvertedTotal.Add(float64(n))
	}
}

// RecordBackfillCommitFailure counts a rolled back page. No-op before InitMetrics.
func RecordBackfillCommitFailure() {
	if backfillCommitFailuresTotal != nil {
		backfillCommitFailuresTotal.Inc()
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
