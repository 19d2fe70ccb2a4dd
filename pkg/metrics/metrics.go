package metrics

import (
	"time"

	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TariffRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communalgrid_tariff_refresh_total",
			Help: "Total number of tariff refreshes by result",
		},
		[]string{"result"},
	)

	ScheduleWarnings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "communalgrid_schedule_warnings",
			Help: "Number of warnings on the active rate schedule",
		},
	)

	CurrentPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "communalgrid_current_price_dollars_per_kwh",
			Help: "Price of the active tier",
		},
		[]string{"tier"},
	)

	Devices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "communalgrid_devices",
			Help: "Number of discovered devices per category",
		},
		[]string{"category"},
	)

	EligiblePrograms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "communalgrid_eligible_programs",
			Help: "Number of VPP programs the household qualifies for",
		},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "communalgrid_request_duration_seconds",
			Help:    "Request duration in seconds per path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "communalgrid_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "communalgrid_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communalgrid_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

// UpdateJobMetrics records the outcome of a scheduled job run.
func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}

// SetCurrentPrice reports p as the only active tier.
func SetCurrentPrice(p types.Price) {
	CurrentPrice.Reset()
	CurrentPrice.WithLabelValues(p.Tier).Set(p.DollarsPerKWH)
}

// SetDeviceSummary reports the per-category device counts.
func SetDeviceSummary(s types.DeviceSummary) {
	for category, n := range s.Counts {
		Devices.WithLabelValues(string(category)).Set(float64(n))
	}
}
