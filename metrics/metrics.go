// Package metrics exposes Prometheus collectors for the grid trader.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// REST 请求按动作区分（place/cancel/status/klines/...）。
	RestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_rest_requests_total",
		Help: "REST 请求数量",
	}, []string{"action"})
	RestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_rest_errors_total",
		Help: "REST 错误数量",
	}, []string{"action"})
	RestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grid_rest_latency_seconds",
		Help:    "REST 请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	WSConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_ws_connects_total",
		Help: "K线流连接次数",
	})
	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_ws_reconnects_total",
		Help: "K线流重连次数",
	})

	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_cycles_total",
		Help: "完成的tick周期数",
	})
	CycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_cycle_errors_total",
		Help: "失败（跳过）的tick周期数",
	})
	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_ticks_dropped_total",
		Help: "周期忙碌时被丢弃的tick数",
	})
	Refreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_refreshes_total",
		Help: "全量重建次数",
	})

	LiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_live_orders",
		Help: "账本中跟踪的挂单数",
	})
	BandUpper = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_band_upper",
		Help: "当前网格区间上轨",
	})
	BandLower = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_band_lower",
		Help: "当前网格区间下轨",
	})
	SpacingRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_spacing_ratio",
		Help: "当前几何间距比",
	})
	LastPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_last_price",
		Help: "最近一根收盘K线价格",
	})
	TotalInvestment = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_total_investment",
		Help: "按现价折算的总资金（计价货币）",
	})
)

// Serve 启动 /metrics 端点；addr 为空则不启动。
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
