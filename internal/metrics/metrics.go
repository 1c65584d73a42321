// Package metrics 注册全部 Prometheus 指标，由 admin HTTP 服务在 /metrics 暴露。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aegis"

var (
	SignalsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "signals_ingested_total", Help: "Market signals accepted by the aggregator"},
		[]string{"source"},
	)
	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "signals_dropped_total", Help: "Market signals discarded before aggregation"},
		[]string{"reason"},
	)
	AggregatesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "aggregates_published_total", Help: "Aggregated signals emitted"},
	)
	IntentsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "intents_emitted_total", Help: "Trade intents emitted by the decision engine"},
		[]string{"side"},
	)
	RiskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "risk_decisions_total", Help: "Risk manager outcomes"},
		[]string{"outcome", "reason"},
	)
	CASRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "portfolio_cas_retries_total", Help: "Portfolio compare-and-swap conflicts that were retried"},
	)
	ReservedRisk = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "portfolio_reserved_risk", Help: "Risk currently reserved by open positions"},
	)
	OptimizerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "optimizer_runs_total", Help: "Optimization cycles by result"},
		[]string{"result"},
	)
	StrategyVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "strategy_config_version", Help: "Latest strategy config version seen"},
	)
	BusDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bus_deliveries_total", Help: "Message deliveries by topic and result"},
		[]string{"topic", "result"},
	)
	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bus_publish_failures_total", Help: "Publishes that failed after all retries"},
		[]string{"topic"},
	)
	DeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dead_letters_total", Help: "Messages written to the dead-letter store"},
		[]string{"topic", "stage"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsIngested,
		SignalsDropped,
		AggregatesPublished,
		IntentsEmitted,
		RiskDecisions,
		CASRetries,
		ReservedRisk,
		OptimizerRuns,
		StrategyVersion,
		BusDeliveries,
		PublishFailures,
		DeadLetters,
	)
}

// Handler 返回 Prometheus 抓取端点。
func Handler() http.Handler {
	return promhttp.Handler()
}
