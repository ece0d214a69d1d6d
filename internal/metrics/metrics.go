// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアや上流クライアント、サービス層から利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordUpstreamCall(op, outcome string, duration time.Duration)
	RecordJWKSFetch(outcome string)
	RecordOrderPlaced()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	jwksFetches     *prometheus.CounterVec
	ordersPlaced    prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza42_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza42_upstream_calls_total",
			Help: "IdP呼び出しの操作・結果別の合計数",
		}, []string{"op", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pizza42_upstream_latency_seconds",
			Help:    "IdP呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza42_jwks_fetch_total",
			Help: "JWKS取得の結果別の合計数",
		}, []string{"outcome"}),
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pizza42_orders_placed_total",
			Help: "作成された注文の合計数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.upstreamCalls,
		c.upstreamLatency,
		c.jwksFetches,
		c.ordersPlaced,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamCall はIdP呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordUpstreamCall(op, outcome string, duration time.Duration) {
	c.upstreamCalls.WithLabelValues(op, outcome).Inc()
	c.upstreamLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordJWKSFetch はJWKS取得の結果を記録する。
func (c *Collector) RecordJWKSFetch(outcome string) {
	c.jwksFetches.WithLabelValues(outcome).Inc()
}

// RecordOrderPlaced は注文作成を記録する。
func (c *Collector) RecordOrderPlaced() {
	c.ordersPlaced.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
