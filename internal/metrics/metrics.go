// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 検索結果の分類
const (
	OutcomeSuccess         = "success"
	OutcomeUpstreamFailure = "upstream_failure"
	OutcomeInvalidRequest  = "invalid_request"
)

// カウンター更新の操作種別
const (
	CounterOpIncrement = "increment"
	CounterOpDecrement = "decrement"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とワーカーから利用する。
type MetricsCollector interface {
	RecordSearch(mood string, outcome string)
	RecordUpstreamStatus(statusCode int)
	RecordUpstreamLatency(requestType string, duration time.Duration)
	RecordHistorySaved()
	RecordHistorySaveFailure()
	RecordHistoryDeleted()
	RecordCounterUpdateFailure(op string)
	RecordPurgeFailures(count int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	searches        *prometheus.CounterVec
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	historySaved    prometheus.Counter
	historySaveFail prometheus.Counter
	historyDeleted  prometheus.Counter
	counterFail     *prometheus.CounterVec
	purgeFail       prometheus.Counter
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodbytes_searches_total",
			Help: "ムード検索の合計数（結果別）",
		}, []string{"mood", "outcome"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodbytes_upstream_status_total",
			Help: "プレイス検索APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moodbytes_upstream_latency_seconds",
			Help:    "プレイス検索APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"request_type"}),
		historySaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moodbytes_history_saved_total",
			Help: "保存された検索履歴の合計数",
		}),
		historySaveFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moodbytes_history_save_fail_total",
			Help: "検索履歴の保存失敗の合計数",
		}),
		historyDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moodbytes_history_deleted_total",
			Help: "削除された検索履歴の合計数",
		}),
		counterFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodbytes_counter_update_fail_total",
			Help: "検索回数カウンター更新失敗の合計数",
		}, []string{"op"}),
		purgeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moodbytes_history_purge_fail_total",
			Help: "退会時に削除できなかった検索履歴の合計数",
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moodbytes_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.searches,
		c.upstreamStatus,
		c.upstreamLatency,
		c.historySaved,
		c.historySaveFail,
		c.historyDeleted,
		c.counterFail,
		c.purgeFail,
		c.sessionsCleaned,
	)

	return c
}

// RecordSearch は検索1回の結果を記録する。
func (c *Collector) RecordSearch(mood string, outcome string) {
	c.searches.WithLabelValues(mood, outcome).Inc()
}

// RecordUpstreamStatus はプレイス検索APIのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency はプレイス検索APIのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(requestType string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(requestType).Observe(duration.Seconds())
}

// RecordHistorySaved は履歴保存成功を記録する。
func (c *Collector) RecordHistorySaved() {
	c.historySaved.Inc()
}

// RecordHistorySaveFailure は履歴保存失敗を記録する。
func (c *Collector) RecordHistorySaveFailure() {
	c.historySaveFail.Inc()
}

// RecordHistoryDeleted は履歴削除成功を記録する。
func (c *Collector) RecordHistoryDeleted() {
	c.historyDeleted.Inc()
}

// RecordCounterUpdateFailure はカウンター更新失敗を記録する。
func (c *Collector) RecordCounterUpdateFailure(op string) {
	c.counterFail.WithLabelValues(op).Inc()
}

// RecordPurgeFailures は退会時の履歴削除失敗件数を記録する。
func (c *Collector) RecordPurgeFailures(count int) {
	c.purgeFail.Add(float64(count))
}

// RecordSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollector。
// コレクター未設定のサービスとテストで使う。
type Noop struct{}

func (Noop) RecordSearch(string, string)                {}
func (Noop) RecordUpstreamStatus(int)                   {}
func (Noop) RecordUpstreamLatency(string, time.Duration) {}
func (Noop) RecordHistorySaved()                        {}
func (Noop) RecordHistorySaveFailure()                  {}
func (Noop) RecordHistoryDeleted()                      {}
func (Noop) RecordCounterUpdateFailure(string)          {}
func (Noop) RecordPurgeFailures(int)                    {}
func (Noop) RecordSessionsCleaned(int64)                {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
