package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hyperstats_refresh_cycles_total", Help: "Completed refresh cycles"},
	)
	RefreshFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hyperstats_refresh_failures_total", Help: "Refresh cycles served from stale data"},
	)
	StaleAssets = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hyperstats_stale_assets", Help: "Assets marked stale in the latest cycle"},
	)
	TrackedAssets = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hyperstats_tracked_assets", Help: "Assets in the latest snapshot set"},
	)
	StreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hyperstats_stream_reconnects_total", Help: "Liquidation stream reconnects"},
	)
	LiquidationEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hyperstats_liquidation_events_total", Help: "Liquidation events ingested"},
	)
	AlertsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hyperstats_alerts_fired_total", Help: "Alert conditions fired"},
		[]string{"kind"},
	)
	AlertsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hyperstats_alerts_dropped_total", Help: "Alert records dropped on delivery failure or overflow"},
	)
)

func init() {
	prometheus.MustRegister(
		RefreshCyclesTotal,
		RefreshFailuresTotal,
		StaleAssets,
		TrackedAssets,
		StreamReconnectsTotal,
		LiquidationEventsTotal,
		AlertsFiredTotal,
		AlertsDroppedTotal,
	)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
