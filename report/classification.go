package report

import (
	"fmt"
	"io"
	"math"

	"github.com/tsawler/go-graphsemi/training"
)

// ClassScore holds per-class precision, recall and F1. Undefined ratios
// are reported as 0.
type ClassScore struct {
	Class     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassificationReport summarises a confusion matrix per class
type ClassificationReport struct {
	Classes     []ClassScore
	Accuracy    float64
	MacroAvg    ClassScore
	WeightedAvg ClassScore
	Total       int
}

// NewClassificationReport builds the report for cm, whose class indices
// follow names
func NewClassificationReport(cm *training.ConfusionMatrix, names []string) (*ClassificationReport, error) {
	if cm == nil {
		return nil, fmt.Errorf("nil confusion matrix")
	}
	if len(names) != cm.NumClasses {
		return nil, fmt.Errorf("confusion matrix has %d classes, got %d names", cm.NumClasses, len(names))
	}

	r := &ClassificationReport{
		Accuracy:    cm.GetAccuracy(),
		Total:       cm.TotalSamples,
		MacroAvg:    ClassScore{Class: "macro avg"},
		WeightedAvg: ClassScore{Class: "weighted avg"},
	}
	for c, name := range names {
		s := ClassScore{
			Class:     name,
			Precision: orZero(cm.ClassPrecision(c)),
			Recall:    orZero(cm.ClassRecall(c)),
			Support:   cm.ClassSupport(c),
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Classes = append(r.Classes, s)

		r.MacroAvg.Precision += s.Precision / float64(len(names))
		r.MacroAvg.Recall += s.Recall / float64(len(names))
		r.MacroAvg.F1 += s.F1 / float64(len(names))
		if r.Total > 0 {
			w := float64(s.Support) / float64(r.Total)
			r.WeightedAvg.Precision += w * s.Precision
			r.WeightedAvg.Recall += w * s.Recall
			r.WeightedAvg.F1 += w * s.F1
		}
	}
	r.MacroAvg.Support = r.Total
	r.WeightedAvg.Support = r.Total
	return r, nil
}

func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// Write prints the report as an aligned table
func (r *ClassificationReport) Write(w io.Writer) error {
	width := len("weighted avg")
	for _, s := range r.Classes {
		if len(s.Class) > width {
			width = len(s.Class)
		}
	}

	row := func(s ClassScore) error {
		_, err := fmt.Fprintf(w, "%*s %9.2f %9.2f %9.2f %9d\n", width, s.Class, s.Precision, s.Recall, s.F1, s.Support)
		return err
	}

	if _, err := fmt.Fprintf(w, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support"); err != nil {
		return err
	}
	for _, s := range r.Classes {
		if err := row(s); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "\n%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total); err != nil {
		return err
	}
	if err := row(r.MacroAvg); err != nil {
		return err
	}
	return row(r.WeightedAvg)
}

// RelationReport holds the binary scores of the relation head on one split
type RelationReport struct {
	Precision   float64
	Recall      float64
	F1          float64
	Specificity float64
	NPV         float64
	Accuracy    float64
	AUC         float64 // NaN when only one relation value is present
	Pairs       int
}

// NewRelationReport reads the relation confusion matrix of eval
func NewRelationReport(eval *training.Evaluation) (*RelationReport, error) {
	if eval == nil || eval.RelationConfusion == nil {
		return nil, fmt.Errorf("no relation evaluation")
	}
	cm := eval.RelationConfusion
	if cm.NumClasses != 2 {
		return nil, fmt.Errorf("relation confusion matrix has %d classes, want 2", cm.NumClasses)
	}

	return &RelationReport{
		Precision:   cm.GetMetric(training.Precision),
		Recall:      cm.GetMetric(training.Recall),
		F1:          cm.GetMetric(training.F1Score),
		Specificity: cm.GetMetric(training.Specificity),
		NPV:         cm.GetMetric(training.NPV),
		Accuracy:    cm.GetAccuracy(),
		AUC:         eval.RelationAUC,
		Pairs:       cm.TotalSamples,
	}, nil
}

// Write prints one metric per line
func (r *RelationReport) Write(w io.Writer) error {
	rows := []struct {
		name  string
		value float64
	}{
		{"precision", r.Precision},
		{"recall", r.Recall},
		{"f1-score", r.F1},
		{"specificity", r.Specificity},
		{"npv", r.NPV},
		{"accuracy", r.Accuracy},
		{"auc", r.AUC},
	}

	if _, err := fmt.Fprintf(w, "relation head over %d pairs\n", r.Pairs); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%12s %9.2f\n", row.name, row.value); err != nil {
			return err
		}
	}
	return nil
}
