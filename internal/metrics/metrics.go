// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// APIクライアント・ポーラー・楽観的ミューテーション実行器から利用する。
type Recorder interface {
	RecordAPIRequest(method, path string, statusCode int, duration time.Duration)
	RecordAPITransportError(method, path string)
	RecordPollOutcome(kind string, outcome string)
	RecordPollAttempts(kind string, attempts int)
	RecordOptimisticRollback(entityKind string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests     *prometheus.CounterVec
	apiTransportErr *prometheus.CounterVec
	apiLatency      prometheus.Histogram
	pollOutcomes    *prometheus.CounterVec
	pollAttempts    *prometheus.HistogramVec
	rollbacks       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kifuman_api_requests_total",
			Help: "APIリクエストの合計数（メソッド・パス・ステータスコード別）",
		}, []string{"method", "path", "status_code"}),
		apiTransportErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kifuman_api_transport_errors_total",
			Help: "API通信エラーの合計数",
		}, []string{"method", "path"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kifuman_api_latency_seconds",
			Help:    "APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kifuman_poll_outcomes_total",
			Help: "ポーリングの終端状態別の合計数",
		}, []string{"kind", "outcome"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kifuman_poll_attempts",
			Help:    "終端状態に達するまでのポーリング試行回数",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 10, 12},
		}, []string{"kind"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kifuman_optimistic_rollbacks_total",
			Help: "楽観的ミューテーションのロールバック合計数",
		}, []string{"entity_kind"}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiTransportErr,
		c.apiLatency,
		c.pollOutcomes,
		c.pollAttempts,
		c.rollbacks,
	)

	return c
}

// RecordAPIRequest はAPIリクエストの完了を記録する。
func (c *Collector) RecordAPIRequest(method, path string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.Observe(duration.Seconds())
}

// RecordAPITransportError はAPI通信エラーを記録する。
func (c *Collector) RecordAPITransportError(method, path string) {
	c.apiTransportErr.WithLabelValues(method, path).Inc()
}

// RecordPollOutcome はポーリングの終端状態を記録する。
func (c *Collector) RecordPollOutcome(kind string, outcome string) {
	c.pollOutcomes.WithLabelValues(kind, outcome).Inc()
}

// RecordPollAttempts は終端到達までの試行回数を記録する。
func (c *Collector) RecordPollAttempts(kind string, attempts int) {
	c.pollAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

// RecordOptimisticRollback はロールバックの発生を記録する。
func (c *Collector) RecordOptimisticRollback(entityKind string) {
	c.rollbacks.WithLabelValues(entityKind).Inc()
}

// Handler は/metricsエンドポイントのHTTPハンドラを返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Nop は何も記録しないRecorder実装。
// メトリクスが不要なテストやワンショットCLI実行で使用する。
type Nop struct{}

func (Nop) RecordAPIRequest(method, path string, statusCode int, duration time.Duration) {}
func (Nop) RecordAPITransportError(method, path string)                                  {}
func (Nop) RecordPollOutcome(kind string, outcome string)                                {}
func (Nop) RecordPollAttempts(kind string, attempts int)                                 {}
func (Nop) RecordOptimisticRollback(entityKind string)                                   {}
