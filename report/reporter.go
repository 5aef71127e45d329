// Package report turns epoch records and final evaluations into logs,
// CSV files, Prometheus gauges, plots and text reports.
package report

import (
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-graphsemi/training"
)

// multiReporter fans one record out to several reporters
type multiReporter []training.Reporter

// Multi returns a Reporter that calls every non-nil reporter in order. All
// reporters run even when one fails; their errors are combined.
func Multi(reporters ...training.Reporter) training.Reporter {
	var out multiReporter
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiReporter) OnEpoch(rec training.EpochRecord) error {
	var result *multierror.Error
	for _, r := range m {
		if err := r.OnEpoch(rec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// LogReporter writes one structured log line per epoch
type LogReporter struct {
	logger logrus.FieldLogger
}

// NewLogReporter logs through logger at Info
func NewLogReporter(logger logrus.FieldLogger) *LogReporter {
	return &LogReporter{logger: logger.WithField("component", "report")}
}

func (r *LogReporter) OnEpoch(rec training.EpochRecord) error {
	fields := logrus.Fields{
		"epoch":              rec.Epoch,
		"loss":               rec.Train.TotalLoss,
		"class_loss":         rec.Train.ClassLoss,
		"class_acc":          rec.Train.ClassAccuracy,
		"relation_loss":      rec.Train.RelationLoss,
		"relation_acc":       rec.Train.RelationAccuracy,
		"relation_precision": rec.Train.RelationPrecision,
		"relation_recall":    rec.Train.RelationRecall,
		"relation_f1":        rec.Train.RelationF1,
		"learning_rate":      rec.LearningRate,
		"duration":           rec.Duration,
		"eval_failures":      rec.EvalFailures,
	}
	if rec.Validation.Pairs > 0 {
		fields["val_loss"] = rec.Validation.TotalLoss
		fields["val_class_acc"] = rec.Validation.ClassAccuracy
		fields["val_relation_acc"] = rec.Validation.RelationAccuracy
		fields["val_relation_f1"] = rec.Validation.RelationF1
	}
	if !math.IsNaN(rec.Similarity) {
		fields["similarity"] = rec.Similarity
	}
	r.logger.WithFields(fields).Info("epoch metrics")
	return nil
}
