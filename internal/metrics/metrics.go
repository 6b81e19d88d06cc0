package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted by outcome"},
		[]string{"symbol", "side", "status"},
	)
	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exits_total", Help: "Exit conditions triggered"},
		[]string{"symbol", "reason"},
	)
	SkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "skips_total", Help: "Candidate actions skipped"},
		[]string{"symbol", "reason"},
	)
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Trading cycles completed"},
	)
	ExchangeRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exchange_retries_total", Help: "Exchange request retries"},
		[]string{"op"},
	)
	ReconcileRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconcile_repairs_total", Help: "Ledger repairs applied by reconciliation"},
		[]string{"kind"},
	)
	ReconcileDriftAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "reconcile_drift_alerts_total", Help: "Cash drift beyond tolerance"},
	)
	ExchangeBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "exchange_breaker_state", Help: "Exchange breaker state: 0 closed, 1 open, 2 half-open"},
	)
	LedgerEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ledger_equity", Help: "Cash plus marked position value at the last cycle, in quote"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		OrdersTotal,
		ExitsTotal,
		SkipsTotal,
		CyclesTotal,
		ExchangeRetriesTotal,
		ReconcileRepairsTotal,
		ReconcileDriftAlertsTotal,
		ExchangeBreakerState,
		LedgerEquity,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
