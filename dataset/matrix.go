package dataset

import (
	"math"
	"strconv"

	"github.com/tsawler/go-graphsemi/errdefs"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// FeatureMatrix holds N sample vectors of dimension D. It is immutable once
// constructed; Row returns views that callers must not modify.
type FeatureMatrix struct {
	data       *mat.Dense
	sampleIDs  []string
	featureIDs []string
}

// NewFeatureMatrix builds a matrix from row-major sample vectors. IDs are
// optional; when nil they are generated from the row/column index.
func NewFeatureMatrix(rows [][]float64, sampleIDs, featureIDs []string) (*FeatureMatrix, error) {
	if len(rows) == 0 {
		return nil, errdefs.InvalidInput("dataset.NewFeatureMatrix", "no samples")
	}
	dims := len(rows[0])
	if dims == 0 {
		return nil, errdefs.InvalidInput("dataset.NewFeatureMatrix", "samples have zero features")
	}

	data := make([]float64, 0, len(rows)*dims)
	for i, row := range rows {
		if len(row) != dims {
			return nil, errdefs.InvalidInput("dataset.NewFeatureMatrix",
				"sample %d has %d features, expected %d", i, len(row), dims)
		}
		data = append(data, row...)
	}

	if sampleIDs == nil {
		sampleIDs = generatedIDs("sample", len(rows))
	}
	if featureIDs == nil {
		featureIDs = generatedIDs("feature", dims)
	}
	if len(sampleIDs) != len(rows) || len(featureIDs) != dims {
		return nil, errdefs.InvalidInput("dataset.NewFeatureMatrix",
			"id counts (%d samples, %d features) do not match matrix %dx%d",
			len(sampleIDs), len(featureIDs), len(rows), dims)
	}

	return &FeatureMatrix{
		data:       mat.NewDense(len(rows), dims, data),
		sampleIDs:  append([]string(nil), sampleIDs...),
		featureIDs: append([]string(nil), featureIDs...),
	}, nil
}

// Rows returns the number of samples
func (m *FeatureMatrix) Rows() int {
	r, _ := m.data.Dims()
	return r
}

// Dims returns the feature dimension
func (m *FeatureMatrix) Dims() int {
	_, c := m.data.Dims()
	return c
}

// Row returns a read-only view of sample i
func (m *FeatureMatrix) Row(i int) []float64 {
	return m.data.RawRowView(i)
}

// Matrix exposes the backing matrix for read-only use
func (m *FeatureMatrix) Matrix() mat.Matrix {
	return m.data
}

func (m *FeatureMatrix) SampleIDs() []string  { return m.sampleIDs }
func (m *FeatureMatrix) FeatureIDs() []string { return m.featureIDs }

// Finite reports the first sample holding a NaN or Inf value, if any
func (m *FeatureMatrix) Finite() (int, bool) {
	for i := 0; i < m.Rows(); i++ {
		for _, v := range m.Row(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return i, false
			}
		}
	}
	return -1, true
}

// Standardize returns a copy where every feature has zero mean and unit
// population variance across samples. Constant features are only centred.
func (m *FeatureMatrix) Standardize() *FeatureMatrix {
	rows, cols := m.data.Dims()
	out := mat.NewDense(rows, cols, nil)
	column := make([]float64, rows)

	for j := 0; j < cols; j++ {
		mat.Col(column, j, m.data)
		mean, variance := stat.MeanVariance(column, nil)
		// MeanVariance is unbiased; rescale to the population variance
		if rows > 1 {
			variance *= float64(rows-1) / float64(rows)
		} else {
			variance = 0
		}
		std := math.Sqrt(variance)
		for i := 0; i < rows; i++ {
			v := column[i] - mean
			if std > 0 {
				v /= std
			}
			out.Set(i, j, v)
		}
	}

	return &FeatureMatrix{data: out, sampleIDs: m.sampleIDs, featureIDs: m.featureIDs}
}

func generatedIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = prefix + "_" + strconv.Itoa(i)
	}
	return ids
}
