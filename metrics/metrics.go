// Package metrics provides Prometheus metrics for the position guard engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProtectiveOrdersSubmitted 按 symbol/kind（stop_loss、take_profit）统计已提交保护单。
	ProtectiveOrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pg_protective_orders_submitted_total",
		Help: "Protective trigger orders submitted to the exchange",
	}, []string{"symbol", "kind"})

	// MarketCloses 立即平仓次数（止损/止盈触发）。
	MarketCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pg_market_closes_total",
		Help: "Immediate market close orders issued",
	}, []string{"symbol", "reason"})

	// GatewayErrors 网关调用失败（传输错误或非零业务码）。
	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pg_gateway_errors_total",
		Help: "Failed exchange gateway calls",
	}, []string{"op"})

	// CancelBatches 已发送的批量撤单请求数。
	CancelBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pg_cancel_batches_total",
		Help: "Algo cancel batches sent",
	})

	// ReversalWatchesPending 当前挂起的反转触发单（TTO）数量。
	ReversalWatchesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pg_reversal_watches_pending",
		Help: "Pending trigger-trigger watches",
	})

	// ReversalFires TTO 第二腿成功提交次数。
	ReversalFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pg_reversal_fires_total",
		Help: "Reversal watches fired",
	}, []string{"symbol", "side"})

	// EventsProcessed 按类型统计引擎处理的事件。
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pg_events_processed_total",
		Help: "Events consumed by the engine",
	}, []string{"type"})

	// EnginePaused 1 表示持仓保护评估已暂停。
	EnginePaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pg_engine_paused",
		Help: "Whether position-driven protection is paused",
	})
)

// StartMetricsServer 启动 Prometheus 指标服务器。
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
