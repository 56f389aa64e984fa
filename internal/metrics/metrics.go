package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "build_inspector_runs_total",
			Help: "Evidence processing runs by outcome",
		}, []string{"status"},
	)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "build_inspector_stage_duration_seconds",
			Help:    "Duration of each reporting stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"},
	)
	Anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "build_inspector_anomalies_total",
			Help: "Report lines surviving the baseline, per section",
		}, []string{"section"},
	)
	BaselineRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "build_inspector_baseline_removed_total",
			Help: "Command log lines removed as known-benign",
		},
	)
	OutgoingBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_inspector_outgoing_bytes",
			Help: "Bytes sent to non-whitelisted hosts in the last run",
		}, []string{"host"},
	)
)

func MustRegister() {
	prometheus.MustRegister(Runs, StageDuration, Anomalies, BaselineRemoved, OutgoingBytes)
}

func Handler() http.Handler { return promhttp.Handler() }
