package training

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/sampling"
	"gonum.org/v1/gonum/mat"
)

// fixtureLabels: samples 4 and 7 are unlabeled
var fixtureLabels = []string{"A", "A", "B", "B", dataset.Unlabeled, "A", "B", dataset.Unlabeled}

type fixture struct {
	matrix    *dataset.FeatureMatrix
	labels    *dataset.LabelMap
	binarizer *dataset.LabelBinarizer
	split     *Split
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rows := make([][]float64, len(fixtureLabels))
	for i := range rows {
		rows[i] = []float64{float64(i), float64(i * i), -float64(i)}
	}
	matrix, err := dataset.NewFeatureMatrix(rows, nil, nil)
	require.NoError(t, err)

	labels := dataset.NewLabelMap(fixtureLabels)
	binarizer, err := dataset.NewLabelBinarizer(labels.Classes())
	require.NoError(t, err)

	p := func(a, b int, rel uint8) sampling.ContextPair {
		return sampling.ContextPair{Anchor: a, Partner: b, Relation: rel}
	}
	split := &Split{
		Train: []sampling.ContextPair{
			p(0, 1, 1), p(2, 3, 1), p(4, 5, 0), p(6, 0, 0), p(1, 5, 1),
			p(3, 6, 1), p(7, 2, 0), p(5, 2, 0), p(0, 5, 1), p(2, 6, 1),
		},
		Validation: []sampling.ContextPair{p(0, 1, 1), p(2, 3, 1), p(0, 2, 0), p(5, 6, 0)},
		Test:       []sampling.ContextPair{p(1, 0, 1), p(3, 2, 1), p(4, 0, 0), p(7, 3, 0)},
	}

	return &fixture{matrix: matrix, labels: labels, binarizer: binarizer, split: split}
}

func (f *fixture) splitData(t *testing.T) *SplitData {
	t.Helper()
	data, err := NewSplitData(f.split, f.matrix, f.labels, f.binarizer)
	require.NoError(t, err)
	return data
}

// perfectPrediction echoes the batch targets back as predictions
func perfectPrediction(b *Batch) *Prediction {
	rows, cols := b.Classes.Dims()
	probs := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		y := b.Classes.RawRowView(i)
		if rowMass(y) == 0 {
			for j := 0; j < cols; j++ {
				probs.Set(i, j, 1/float64(cols))
			}
			continue
		}
		probs.SetRow(i, y)
	}
	return &Prediction{
		ClassProbs: probs,
		Relation:   append([]float64(nil), b.Relations...),
	}
}
