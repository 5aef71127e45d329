package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/tsawler/go-graphsemi/dataset"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SamplePrediction is one row of the prediction table. Label is the known
// label, dataset.Unlabeled for samples the model labels for the first time.
type SamplePrediction struct {
	Sample     string  `csv:"sample"`
	Label      string  `csv:"label"`
	Predicted  string  `csv:"predicted"`
	Confidence float64 `csv:"confidence"`
}

// NewSamplePredictions pairs every row of probs with its sample
func NewSamplePredictions(sampleIDs []string, labels *dataset.LabelMap, probs mat.Matrix, binarizer *dataset.LabelBinarizer) ([]SamplePrediction, error) {
	rows, cols := probs.Dims()
	if rows != len(sampleIDs) || rows != labels.Len() {
		return nil, fmt.Errorf("%d prediction rows for %d samples and %d labels", rows, len(sampleIDs), labels.Len())
	}
	if cols != binarizer.NumClasses() {
		return nil, fmt.Errorf("%d prediction columns for %d classes", cols, binarizer.NumClasses())
	}

	out := make([]SamplePrediction, rows)
	row := make([]float64, cols)
	for i := range out {
		mat.Row(row, i, probs)
		out[i] = SamplePrediction{
			Sample:     sampleIDs[i],
			Label:      labels.Label(i),
			Predicted:  binarizer.Inverse(row),
			Confidence: floats.Max(row),
		}
	}
	return out, nil
}

// WritePredictions writes rows as a tab-separated table with a header
func WritePredictions(w io.Writer, rows []SamplePrediction) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return errors.Wrap(gocsv.MarshalCSV(&rows, gocsv.NewSafeCSVWriter(cw)), "write predictions")
}

// ReadPredictions reads a table written by WritePredictions
func ReadPredictions(r io.Reader) ([]SamplePrediction, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	var rows []SamplePrediction
	if err := gocsv.UnmarshalCSV(cr, &rows); err != nil {
		return nil, errors.Wrap(err, "read predictions")
	}
	return rows, nil
}
