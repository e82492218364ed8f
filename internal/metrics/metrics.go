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
// Collectorがこれを実装する。articlesパッケージはこのインターフェースを参照せず、
// 自身のMetricsSinkを通じてCollectorの一部のメソッドだけを呼び出す。
type MetricsCollector interface {
	RecordFetchSuccess(feedID string)
	RecordFetchFailure(feedID string, reason string)
	RecordParseFailure(feedID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordArticlesDelivered(feedID string, count int)
	RecordUniqueViolationSwallowed(feedID string)
	RecordCacheHit(feedID string)
	RecordCacheMiss(feedID string)
	RecordHtmlFallback(feedID string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess       prometheus.Counter
	fetchFail          prometheus.Counter
	parseFail          prometheus.Counter
	httpStatus         *prometheus.CounterVec
	fetchLatency       prometheus.Histogram
	articlesDelivered  prometheus.Counter
	uniqueViolations   prometheus.Counter
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	htmlFallbacks      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_fetch_success_total",
			Help: "フィードフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_fetch_fail_total",
			Help: "フィードフェッチ失敗の合計数",
		}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articles_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "articles_fetch_latency_seconds",
			Help:    "フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		articlesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_delivered_total",
			Help: "配信対象と判定された記事の合計数",
		}),
		uniqueViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_unique_violation_swallowed_total",
			Help: "並行ポーリングで飲み込まれた一意制約違反の合計数",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_cache_hit_total",
			Help: "フェッチキャッシュのヒット数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_cache_miss_total",
			Help: "フェッチキャッシュのミス数",
		}),
		htmlFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articles_html_fallback_total",
			Help: "フィード解析失敗後にHTMLからRSSリンクを発見した回数",
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.httpStatus,
		c.fetchLatency,
		c.articlesDelivered,
		c.uniqueViolations,
		c.cacheHits,
		c.cacheMisses,
		c.htmlFallbacks,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(feedID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(feedID string, reason string) {
	c.fetchFail.Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(feedID string) {
	c.parseFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordArticlesDelivered は配信対象と判定された記事数を記録する。
func (c *Collector) RecordArticlesDelivered(feedID string, count int) {
	c.articlesDelivered.Add(float64(count))
}

// RecordUniqueViolationSwallowed は並行ポーリングで飲み込まれた
// 一意制約違反を記録する。
func (c *Collector) RecordUniqueViolationSwallowed(feedID string) {
	c.uniqueViolations.Inc()
}

// RecordCacheHit はフェッチキャッシュのヒットを記録する。
func (c *Collector) RecordCacheHit(feedID string) {
	c.cacheHits.Inc()
}

// RecordCacheMiss はフェッチキャッシュのミスを記録する。
func (c *Collector) RecordCacheMiss(feedID string) {
	c.cacheMisses.Inc()
}

// RecordHtmlFallback はフィード解析失敗後のHTMLフォールバック発生を記録する。
func (c *Collector) RecordHtmlFallback(feedID string) {
	c.htmlFallbacks.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
