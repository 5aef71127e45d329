package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-graphsemi/dataset"
	"gonum.org/v1/gonum/mat"
)

func TestConfusionMatrixBinary(t *testing.T) {
	cm := NewConfusionMatrix(2)
	// TP=3 FN=1 FP=2 TN=4
	for i := 0; i < 3; i++ {
		cm.Add(1, 1)
	}
	cm.Add(1, 0)
	cm.Add(0, 1)
	cm.Add(0, 1)
	for i := 0; i < 4; i++ {
		cm.Add(0, 0)
	}
	cm.Add(5, 0) // ignored

	assert.Equal(t, 10, cm.TotalSamples)
	assert.InDelta(t, 0.7, cm.GetAccuracy(), 1e-12)
	assert.InDelta(t, 0.6, cm.GetMetric(Precision), 1e-12)
	assert.InDelta(t, 0.75, cm.GetMetric(Recall), 1e-12)
	assert.InDelta(t, 2*0.6*0.75/(0.6+0.75), cm.GetMetric(F1Score), 1e-12)
	assert.InDelta(t, 4.0/6.0, cm.GetMetric(Specificity), 1e-12)
	assert.InDelta(t, 0.8, cm.GetMetric(NPV), 1e-12)

	cm.Reset()
	assert.Equal(t, 0, cm.TotalSamples)
	assert.Equal(t, 0.0, cm.GetAccuracy())
	assert.Equal(t, 0.0, cm.GetMetric(Precision))
}

func TestConfusionMatrixPerClass(t *testing.T) {
	cm := NewConfusionMatrix(3)
	cm.Add(0, 0)
	cm.Add(0, 0)
	cm.Add(1, 1)
	cm.Add(1, 0)
	// class 2 never occurs nor is predicted

	assert.InDelta(t, 2.0/3.0, cm.ClassPrecision(0), 1e-12)
	assert.InDelta(t, 1.0, cm.ClassPrecision(1), 1e-12)
	assert.True(t, math.IsNaN(cm.ClassPrecision(2)))

	assert.InDelta(t, 1.0, cm.ClassRecall(0), 1e-12)
	assert.InDelta(t, 0.5, cm.ClassRecall(1), 1e-12)
	assert.True(t, math.IsNaN(cm.ClassRecall(2)))

	assert.Equal(t, 2, cm.ClassSupport(1))
	assert.Equal(t, 0, cm.ClassSupport(2))

	// binary-only metrics are undefined for 3 classes
	assert.Equal(t, 0.0, cm.GetMetric(Precision))
}

func TestAccumulatorRelationScores(t *testing.T) {
	batch := &Batch{
		Classes:   mat.NewDense(4, 2, []float64{1, 0, 0, 1, 1, 0, 0, 0}),
		Relations: []float64{1, 1, 0, 0},
	}
	pred := &Prediction{
		ClassProbs: mat.NewDense(4, 2, []float64{0.9, 0.1, 0.2, 0.8, 0.6, 0.4, 0.5, 0.5}),
		// TP, FN, FP, TN
		Relation: []float64{0.9, 0.2, 0.7, 0.1},
	}

	acc := newMetricsAccumulator(LossWeights{Classification: 1, Relation: 1}, 2)
	require.NoError(t, acc.add(batch, pred))
	m := acc.metrics()

	assert.Equal(t, 4, m.Pairs)
	assert.Equal(t, 3, m.LabeledPairs)
	assert.InDelta(t, 0.5, m.RelationAccuracy, 1e-12)
	assert.InDelta(t, 0.5, m.RelationPrecision, 1e-12)
	assert.InDelta(t, 0.5, m.RelationRecall, 1e-12)
	assert.InDelta(t, 0.5, m.RelationF1, 1e-12)
	assert.Equal(t, 1.0, m.ClassAccuracy)
}

func TestConfusionMatrixFromPredictions(t *testing.T) {
	probs := mat.NewDense(3, 2, []float64{
		0.9, 0.1,
		0.6, 0.4,
		0.2, 0.8,
	})
	targets := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		0, 0,
	})

	cm := NewConfusionMatrix(2)
	require.NoError(t, cm.UpdateFromProbabilities(probs, targets))
	assert.Equal(t, 2, cm.TotalSamples)
	assert.Equal(t, 1, cm.Matrix[0][0])
	assert.Equal(t, 1, cm.Matrix[1][0])

	assert.Error(t, NewConfusionMatrix(3).UpdateFromProbabilities(probs, targets))

	rel := NewConfusionMatrix(2)
	require.NoError(t, rel.UpdateFromScores([]float64{0.7, 0.4, 0.5}, []float64{1, 1, 0}, 0.5))
	assert.InDelta(t, 1.0/3.0, rel.GetAccuracy(), 1e-12)
	assert.Error(t, rel.UpdateFromScores([]float64{0.1}, nil, 0.5))
	assert.Error(t, NewConfusionMatrix(3).UpdateFromScores(nil, nil, 0.5))
}

func TestCalculateAUCROC(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		labels []float64
		want   float64
	}{
		{"perfect", []float64{0.9, 0.8, 0.2, 0.1}, []float64{1, 1, 0, 0}, 1},
		{"reversed", []float64{0.1, 0.2, 0.8, 0.9}, []float64{1, 1, 0, 0}, 0},
		{"all tied", []float64{0.5, 0.5, 0.5, 0.5}, []float64{1, 0, 1, 0}, 0.5},
		{"one swap", []float64{0.9, 0.7, 0.8, 0.1}, []float64{1, 1, 0, 0}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateAUCROC(tt.scores, tt.labels), 1e-12)
		})
	}

	assert.True(t, math.IsNaN(CalculateAUCROC([]float64{0.1, 0.2}, []float64{1, 1})))
	assert.True(t, math.IsNaN(CalculateAUCROC(nil, nil)))
}

func TestSimilarityQuality(t *testing.T) {
	u := dataset.Unlabeled
	sims := []float64{0.9, 0.8, 0.1, 0.2, 0.5}
	anchors := []string{"A", "B", "A", "B", u}
	partners := []string{"A", "B", "B", "A", "A"}

	score, n, err := SimilarityQuality(sims, anchors, partners)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.InDelta(t, 0.7/math.Sqrt(0.5), score, 1e-9)

	// inverted similarity gives the negated score
	inv := []float64{-0.9, -0.8, -0.1, -0.2, 0}
	neg, _, err := SimilarityQuality(inv, anchors, partners)
	require.NoError(t, err)
	assert.InDelta(t, -score, neg, 1e-9)
}

func TestSimilarityQualityDegenerate(t *testing.T) {
	u := dataset.Unlabeled
	tests := []struct {
		name     string
		sims     []float64
		anchors  []string
		partners []string
	}{
		{"length mismatch", []float64{1}, []string{"A", "A"}, []string{"A", "A"}},
		{"too few labeled", []float64{1, 2}, []string{"A", u}, []string{"A", "B"}},
		{"constant agreement", []float64{0.1, 0.9}, []string{"A", "B"}, []string{"A", "B"}},
		{"constant similarity", []float64{0.5, 0.5}, []string{"A", "A"}, []string{"A", "B"}},
		{"non-finite", []float64{math.NaN(), 0.5}, []string{"A", "A"}, []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _, err := SimilarityQuality(tt.sims, tt.anchors, tt.partners)
			assert.Error(t, err)
			assert.True(t, math.IsNaN(score))
		})
	}
}

func TestMetricTypeString(t *testing.T) {
	assert.Equal(t, "Specificity", Specificity.String())
	assert.Equal(t, "Unknown(99)", MetricType(99).String())
}
