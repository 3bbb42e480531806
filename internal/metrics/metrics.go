// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ポーリングループから利用する。
type MetricsCollector interface {
	RecordCheckSuccess()
	RecordCheckFailure(kind string)
	RecordCheckLatency(duration time.Duration)
	RecordObservation(available bool)
	RecordChange()
	RecordAlertSent()
	RecordAlertSuppressed()
	RecordAlertFailed()
	RecordSessionReset()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkSuccess    prometheus.Counter
	checkFail       *prometheus.CounterVec
	checkLatency    prometheus.Histogram
	observations    *prometheus.CounterVec
	changes         prometheus.Counter
	alertSent       prometheus.Counter
	alertSuppressed prometheus.Counter
	alertFailed     prometheus.Counter
	sessionResets   prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickupwatch_check_success_total",
			Help: "在庫確認成功の合計数",
		}),
		checkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pickupwatch_check_fail_total",
			Help: "在庫確認失敗の種別ごとの合計数",
		}, []string{"kind"}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pickupwatch_check_latency_seconds",
			Help:    "在庫確認のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pickupwatch_observations_total",
			Help: "記録された観測の可否別合計数",
		}, []string{"available"}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickupwatch_changes_total",
			Help: "検知された在庫変化の合計数",
		}),
		alertSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickupwatch_alerts_sent_total",
			Help: "送信された通知の合計数",
		}),
		alertSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickupwatch_alerts_suppressed_total",
			Help: "クールダウンで抑制された通知の合計数",
		}),
		alertFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickupwatch_alerts_failed_total",
			Help: "送信に失敗した通知の合計数",
		}),
		sessionResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickupwatch_session_resets_total",
			Help: "連続エラーによるセッションリセットの合計数",
		}),
	}

	reg.MustRegister(
		c.checkSuccess,
		c.checkFail,
		c.checkLatency,
		c.observations,
		c.changes,
		c.alertSent,
		c.alertSuppressed,
		c.alertFailed,
		c.sessionResets,
	)

	return c
}

// RecordCheckSuccess は在庫確認の成功を記録する。
func (c *Collector) RecordCheckSuccess() {
	c.checkSuccess.Inc()
}

// RecordCheckFailure は在庫確認の失敗を種別つきで記録する。
func (c *Collector) RecordCheckFailure(kind string) {
	c.checkFail.WithLabelValues(kind).Inc()
}

// RecordCheckLatency は在庫確認のレイテンシを記録する。
func (c *Collector) RecordCheckLatency(duration time.Duration) {
	c.checkLatency.Observe(duration.Seconds())
}

// RecordObservation は観測の記録を可否別に記録する。
func (c *Collector) RecordObservation(available bool) {
	label := "false"
	if available {
		label = "true"
	}
	c.observations.WithLabelValues(label).Inc()
}

// RecordChange は在庫変化の検知を記録する。
func (c *Collector) RecordChange() {
	c.changes.Inc()
}

// RecordAlertSent は通知送信の成功を記録する。
func (c *Collector) RecordAlertSent() {
	c.alertSent.Inc()
}

// RecordAlertSuppressed はクールダウンによる通知抑制を記録する。
func (c *Collector) RecordAlertSuppressed() {
	c.alertSuppressed.Inc()
}

// RecordAlertFailed は通知送信の失敗を記録する。
func (c *Collector) RecordAlertFailed() {
	c.alertFailed.Inc()
}

// RecordSessionReset はセッションリセットの実行を記録する。
func (c *Collector) RecordSessionReset() {
	c.sessionResets.Inc()
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
