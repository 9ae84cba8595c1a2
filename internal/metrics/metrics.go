// Package metrics provides Prometheus metrics for the vault shell and engine.
// Labels are bounded enums; no paths, names or tokens are ever used as labels.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransfersTotal counts export/import resolutions by outcome
	// (ok, cancelled, failed, rejected).
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultshell_transfers_total",
		Help: "Total number of file transfers, by direction and outcome.",
	}, []string{"direction", "outcome"})

	// TransferBytes counts bytes copied by completed transfers.
	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultshell_transfer_bytes_total",
		Help: "Total bytes copied by transfers, by direction.",
	}, []string{"direction"})

	// EngineStarts counts engine start attempts by outcome
	// (ready, failed, timeout, rejected).
	EngineStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultshell_engine_starts_total",
		Help: "Total number of engine start attempts, by outcome.",
	}, []string{"outcome"})

	// EngineState is 1 for the current engine state and 0 for the others.
	EngineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vaultshell_engine_state",
		Help: "Current engine lifecycle state.",
	}, []string{"state"})

	// RPCCalls counts engine RPC calls by method and result kind.
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultshell_rpc_calls_total",
		Help: "Total number of engine RPC calls, by method and result.",
	}, []string{"method", "result"})

	// BridgeCalls counts UI bridge invocations by method.
	BridgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultshell_bridge_calls_total",
		Help: "Total number of UI bridge calls, by method.",
	}, []string{"method"})
)

// SetEngineState marks state as the current engine state.
func SetEngineState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		EngineState.WithLabelValues(s).Set(v)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
