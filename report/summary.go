package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/tsawler/go-graphsemi/training"
)

// Summary describes one per-epoch series over a run
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Median float64
	P90    float64
	Max    float64
}

// Summarize computes summary statistics of values, ignoring NaNs
func Summarize(values []float64) (Summary, error) {
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return Summary{}, fmt.Errorf("no values to summarize")
	}

	s := Summary{Count: len(data)}
	var err error
	if s.Mean, err = stats.Mean(data); err != nil {
		return Summary{}, errors.Wrap(err, "mean")
	}
	if s.StdDev, err = stats.StandardDeviation(data); err != nil {
		return Summary{}, errors.Wrap(err, "standard deviation")
	}
	if s.Min, err = stats.Min(data); err != nil {
		return Summary{}, errors.Wrap(err, "min")
	}
	if s.Median, err = stats.Median(data); err != nil {
		return Summary{}, errors.Wrap(err, "median")
	}
	if s.P90, err = stats.Percentile(data, 90); err != nil {
		return Summary{}, errors.Wrap(err, "percentile")
	}
	if s.Max, err = stats.Max(data); err != nil {
		return Summary{}, errors.Wrap(err, "max")
	}
	return s, nil
}

// SummarizeHistory summarises the main per-epoch series of a run. Series
// with no finite values are left out.
func SummarizeHistory(history []training.EpochRecord) map[string]Summary {
	columns := map[string][]float64{}
	for _, rec := range history {
		columns["loss"] = append(columns["loss"], rec.Train.TotalLoss)
		columns["class_acc"] = append(columns["class_acc"], rec.Train.ClassAccuracy)
		columns["relation_acc"] = append(columns["relation_acc"], rec.Train.RelationAccuracy)
		columns["similarity"] = append(columns["similarity"], rec.Similarity)
		columns["seconds"] = append(columns["seconds"], rec.Duration.Seconds())
		if rec.Validation.Pairs > 0 {
			columns["val_loss"] = append(columns["val_loss"], rec.Validation.TotalLoss)
		}
	}

	out := make(map[string]Summary, len(columns))
	for name, values := range columns {
		if s, err := Summarize(values); err == nil {
			out[name] = s
		}
	}
	return out
}

// WriteSummaries prints one line per series in name order
func WriteSummaries(w io.Writer, summaries map[string]Summary) error {
	names := make([]string, 0, len(summaries))
	for name := range summaries {
		names = append(names, name)
	}
	sort.Strings(names)

	if _, err := fmt.Fprintf(w, "%-14s %5s %10s %10s %10s %10s %10s %10s\n",
		"series", "n", "mean", "std", "min", "median", "p90", "max"); err != nil {
		return err
	}
	for _, name := range names {
		s := summaries[name]
		if _, err := fmt.Fprintf(w, "%-14s %5d %10.4f %10.4f %10.4f %10.4f %10.4f %10.4f\n",
			name, s.Count, s.Mean, s.StdDev, s.Min, s.Median, s.P90, s.Max); err != nil {
			return err
		}
	}
	return nil
}
