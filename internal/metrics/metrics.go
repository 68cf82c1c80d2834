// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する。
// examtoken.Recorder、notify.Recorder、HTTPステータス記録を1つで満たす。
type Collector struct {
	issueTotal        *prometheus.CounterVec
	redeemTotal       *prometheus.CounterVec
	notificationTotal *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	httpStatus        *prometheus.CounterVec
	tokensPurged      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		issueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_token_issue_total",
			Help: "トークン発行の結果別件数",
		}, []string{"result"}),
		redeemTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_token_redeem_total",
			Help: "トークン使用の結果別件数",
		}, []string{"result"}),
		notificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_notification_total",
			Help: "通知配送の結果別件数",
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "examgate_notification_queue_depth",
			Help: "配送待ちの通知数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "examgate_tokens_purged_total",
			Help: "保持期間を過ぎて削除されたトークン数",
		}),
	}

	reg.MustRegister(
		c.issueTotal,
		c.redeemTotal,
		c.notificationTotal,
		c.queueDepth,
		c.httpStatus,
		c.tokensPurged,
	)

	return c
}

// RecordIssue はトークン発行の結果を記録する。
func (c *Collector) RecordIssue(result string) {
	c.issueTotal.WithLabelValues(result).Inc()
}

// RecordRedeem はトークン使用の結果を記録する。
func (c *Collector) RecordRedeem(result string) {
	c.redeemTotal.WithLabelValues(result).Inc()
}

// RecordNotification は通知配送の結果を記録する。
func (c *Collector) RecordNotification(result string) {
	c.notificationTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth は配送待ちの通知数を設定する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokensPurged はクリーンアップで削除したトークン数を加算する。
func (c *Collector) RecordTokensPurged(count int64) {
	c.tokensPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
