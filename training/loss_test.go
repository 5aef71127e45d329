package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCrossEntropyMasksUnlabeledRows(t *testing.T) {
	probs := mat.NewDense(3, 2, []float64{
		0.7, 0.3,
		0.2, 0.8,
		0.5, 0.5,
	})
	targets := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		0, 0, // unlabeled
	})

	ce := NewCrossEntropyLoss()
	loss, labeled, err := ce.Forward(probs, targets)
	require.NoError(t, err)
	assert.Equal(t, 2, labeled)
	assert.InDelta(t, -(math.Log(0.7)+math.Log(0.8))/2, loss, 1e-12)

	grad, err := ce.Backward(probs, targets)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.15, 0.15}, grad.RawRowView(0), 1e-12)
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, grad.RawRowView(1), 1e-12)
	assert.Equal(t, []float64{0, 0}, grad.RawRowView(2))
}

func TestCrossEntropyAllUnlabeled(t *testing.T) {
	probs := mat.NewDense(2, 2, []float64{0.5, 0.5, 0.9, 0.1})
	targets := mat.NewDense(2, 2, nil)

	ce := NewCrossEntropyLoss()
	loss, labeled, err := ce.Forward(probs, targets)
	require.NoError(t, err)
	assert.Equal(t, 0.0, loss)
	assert.Equal(t, 0, labeled)

	grad, err := ce.Backward(probs, targets)
	require.NoError(t, err)
	assert.True(t, mat.Equal(grad, mat.NewDense(2, 2, nil)))
}

func TestCrossEntropyClipsZeroProbability(t *testing.T) {
	probs := mat.NewDense(1, 2, []float64{0, 1})
	targets := mat.NewDense(1, 2, []float64{1, 0})

	loss, _, err := NewCrossEntropyLoss().Forward(probs, targets)
	require.NoError(t, err)
	assert.False(t, math.IsInf(loss, 0))
	assert.InDelta(t, -math.Log(clipEpsilon), loss, 1e-9)
}

func TestCrossEntropyShapeMismatch(t *testing.T) {
	ce := NewCrossEntropyLoss()
	_, _, err := ce.Forward(mat.NewDense(2, 2, nil), mat.NewDense(2, 3, nil))
	assert.Error(t, err)
	_, err = ce.Backward(mat.NewDense(2, 2, nil), nil)
	assert.Error(t, err)
}

func TestBinaryCrossEntropy(t *testing.T) {
	scores := []float64{0.9, 0.2}
	targets := []float64{1, 0}

	bce := NewBinaryCrossEntropyLoss()
	loss, err := bce.Forward(scores, targets)
	require.NoError(t, err)
	assert.InDelta(t, -(math.Log(0.9)+math.Log(0.8))/2, loss, 1e-12)

	grad, err := bce.Backward(scores, targets)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.05, 0.1}, grad, 1e-12)

	loss, err = bce.Forward([]float64{1}, []float64{0})
	require.NoError(t, err)
	assert.False(t, math.IsInf(loss, 0))

	_, err = bce.Forward(scores, targets[:1])
	assert.Error(t, err)
	_, err = bce.Forward(nil, nil)
	assert.Error(t, err)
	_, err = bce.Backward(nil, nil)
	assert.Error(t, err)
}

func TestLossWeightsCombine(t *testing.T) {
	w := LossWeights{Classification: 2, Relation: 0.5}
	b := w.Combine(1, 4)
	assert.Equal(t, 1.0, b.Classification)
	assert.Equal(t, 4.0, b.Relation)
	assert.Equal(t, 4.0, b.Total)

	d := DefaultLossWeights().Combine(0.3, 0.2)
	assert.InDelta(t, 0.5, d.Total, 1e-12)
}
