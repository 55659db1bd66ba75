package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dtrader_ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	ContractsPurchased = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dtrader_contracts_purchased_total", Help: "Contracts bought"},
		[]string{"symbol", "contract_type"},
	)
	ContractsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dtrader_contracts_settled_total", Help: "Contracts settled by result"},
		[]string{"result"},
	)
	StakeVolume = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dtrader_stake_volume_total", Help: "Total stake placed"},
	)
	ProfitTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dtrader_profit_total", Help: "Cumulative realized profit across engines"},
	)
	WSReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dtrader_ws_reconnects_total", Help: "Broker socket reconnect attempts"},
	)
	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dtrader_broker_errors_total", Help: "Broker API errors by code"},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, ContractsPurchased, ContractsSettled, StakeVolume, ProfitTotal, WSReconnects, APIErrors)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
