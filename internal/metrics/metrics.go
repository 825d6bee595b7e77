package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus counters.
type Metrics struct {
	TokensIssued   prometheus.Counter
	TokensRedeemed prometheus.Counter
	RedeemFailures *prometheus.CounterVec
	RecordsWritten *prometheus.CounterVec
	WritesRejected *prometheus.CounterVec
}

// New creates and registers all counters on the default registry.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "presensi_tokens_issued_total",
			Help: "Total check-in tokens issued",
		}),
		TokensRedeemed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "presensi_tokens_redeemed_total",
			Help: "Total check-in tokens redeemed successfully",
		}),
		RedeemFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "presensi_redeem_failures_total",
			Help: "Failed redemption attempts by failure kind",
		}, []string{"kind"}),
		RecordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "presensi_records_written_total",
			Help: "Attendance records written by source",
		}, []string{"source"}),
		WritesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "presensi_writes_rejected_total",
			Help: "Attendance writes rejected by reason",
		}, []string{"reason"}),
	}
}
