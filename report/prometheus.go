package report

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tsawler/go-graphsemi/training"
)

// PrometheusReporter exposes the latest epoch record as gauges
type PrometheusReporter struct {
	Loss         *prometheus.GaugeVec
	Accuracy     *prometheus.GaugeVec
	Similarity   prometheus.Gauge
	LearningRate prometheus.Gauge
	Epoch        prometheus.Gauge
	EvalFailures prometheus.Counter
	EpochSeconds prometheus.Histogram
}

// NewPrometheusReporter registers the training metrics with reg. runID is
// attached as a constant label.
func NewPrometheusReporter(reg prometheus.Registerer, runID string) *PrometheusReporter {
	labels := prometheus.Labels{"run": runID}
	return &PrometheusReporter{
		Loss: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "graphsemi",
			Name:        "epoch_loss",
			Help:        "Mean loss of the last completed epoch by split and objective.",
			ConstLabels: labels,
		}, []string{"split", "objective"}),
		Accuracy: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "graphsemi",
			Name:        "epoch_accuracy",
			Help:        "Accuracy of the last completed epoch by split and objective.",
			ConstLabels: labels,
		}, []string{"split", "objective"}),
		Similarity: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   "graphsemi",
			Name:        "similarity_quality",
			Help:        "Correlation between embedding similarity and label agreement on the validation split.",
			ConstLabels: labels,
		}),
		LearningRate: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   "graphsemi",
			Name:        "learning_rate",
			Help:        "Learning rate used in the last completed epoch.",
			ConstLabels: labels,
		}),
		Epoch: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   "graphsemi",
			Name:        "epoch",
			Help:        "Last completed epoch.",
			ConstLabels: labels,
		}),
		EvalFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   "graphsemi",
			Name:        "evaluation_failures_total",
			Help:        "Evaluation failures that were logged and skipped.",
			ConstLabels: labels,
		}),
		EpochSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace:   "graphsemi",
			Name:        "epoch_duration_seconds",
			Help:        "Wall time per epoch.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (r *PrometheusReporter) OnEpoch(rec training.EpochRecord) error {
	r.observe("train", rec.Train)
	if rec.Validation.Pairs > 0 {
		r.observe("validation", rec.Validation)
	}
	if !math.IsNaN(rec.Similarity) {
		r.Similarity.Set(rec.Similarity)
	}
	r.LearningRate.Set(rec.LearningRate)
	r.Epoch.Set(float64(rec.Epoch))
	r.EvalFailures.Add(float64(rec.EvalFailures))
	r.EpochSeconds.Observe(rec.Duration.Seconds())
	return nil
}

func (r *PrometheusReporter) observe(split string, m training.EpochMetrics) {
	r.Loss.WithLabelValues(split, "total").Set(m.TotalLoss)
	r.Loss.WithLabelValues(split, "classification").Set(m.ClassLoss)
	r.Loss.WithLabelValues(split, "relation").Set(m.RelationLoss)
	r.Accuracy.WithLabelValues(split, "classification").Set(m.ClassAccuracy)
	r.Accuracy.WithLabelValues(split, "relation").Set(m.RelationAccuracy)
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
