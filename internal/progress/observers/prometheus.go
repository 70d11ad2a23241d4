package observers

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Chanseok/matter-certis-crawler/internal/progress"
)

// PrometheusObserver exports crawl progress via Prometheus. It owns all of
// its collectors so independent crawl instances can use separate registries.
type PrometheusObserver struct {
	processed *prometheus.GaugeVec
	total     *prometheus.GaugeVec
	failed    *prometheus.GaugeVec
	newRows   prometheus.Counter
	updated   prometheus.Counter
	stageTime *prometheus.HistogramVec

	lastNew     int
	lastUpdated int
}

// NewPrometheusObserver registers the collectors against the provided
// registry (default registerer if nil).
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		processed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certis_stage_processed",
			Help: "Tasks resolved in the current stage.",
		}, []string{"stage"}),
		total: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certis_stage_total",
			Help: "Total tasks planned for the current stage.",
		}, []string{"stage"}),
		failed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certis_stage_failed",
			Help: "Tasks failed in the current stage.",
		}, []string{"stage"}),
		newRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certis_products_new_total",
			Help: "Products persisted for the first time.",
		}),
		updated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certis_products_updated_total",
			Help: "Products whose persisted record changed.",
		}),
		stageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certis_stage_duration_seconds",
			Help:    "Wall time per completed stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"stage"}),
	}
	for _, collector := range []prometheus.Collector{
		o.processed, o.total, o.failed, o.newRows, o.updated, o.stageTime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return o, nil
}

// Observe updates the collectors from a snapshot. The tracker is a
// single-writer aggregate, so delta computation against the previous
// snapshot needs no locking here.
func (o *PrometheusObserver) Observe(snap progress.Snapshot) {
	stage := string(snap.Stage)
	o.processed.WithLabelValues(stage).Set(float64(snap.Processed))
	o.total.WithLabelValues(stage).Set(float64(snap.Total))
	o.failed.WithLabelValues(stage).Set(float64(snap.Failed))

	if snap.New >= o.lastNew {
		o.newRows.Add(float64(snap.New - o.lastNew))
	}
	if snap.Updated >= o.lastUpdated {
		o.updated.Add(float64(snap.Updated - o.lastUpdated))
	}
	o.lastNew = snap.New
	o.lastUpdated = snap.Updated
	if snap.Processed == 0 {
		// Stage start resets the running new/updated counters.
		o.lastNew = 0
		o.lastUpdated = 0
	}

	if snap.Terminal {
		o.stageTime.WithLabelValues(stage).Observe(snap.Elapsed.Seconds())
	}
}
