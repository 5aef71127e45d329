package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/layers"
	"github.com/tsawler/go-graphsemi/optimizer"
	"github.com/tsawler/go-graphsemi/training"
	"gonum.org/v1/gonum/mat"
)

func smallArchitecture(dropout float64) layers.Architecture {
	return layers.Architecture{
		Units1:          8,
		Units2:          6,
		Units3:          5,
		Units4:          4,
		ClassDropout:    dropout,
		RelationDropout: dropout,
	}
}

// toyBatch builds n pairs over two clusters in 3-D. Even anchors are class
// A, odd anchors class B, every fourth anchor is unlabeled.
func toyBatch(n int, seed int64) *training.Batch {
	rng := rand.New(rand.NewSource(seed))
	b := &training.Batch{
		Anchors:       mat.NewDense(n, 3, nil),
		Partners:      mat.NewDense(n, 3, nil),
		Classes:       mat.NewDense(n, 2, nil),
		Relations:     make([]float64, n),
		AnchorLabels:  make([]string, n),
		PartnerLabels: make([]string, n),
	}
	point := func(class int) []float64 {
		c := float64(2*class - 1)
		return []float64{c + rng.NormFloat64()*0.3, -c + rng.NormFloat64()*0.3, rng.NormFloat64() * 0.3}
	}
	for i := 0; i < n; i++ {
		class := i % 2
		partner := class
		if i%3 == 0 {
			partner = 1 - class
		}
		b.Anchors.SetRow(i, point(class))
		b.Partners.SetRow(i, point(partner))
		if partner == class {
			b.Relations[i] = 1
		}
		b.AnchorLabels[i] = []string{"A", "B"}[class]
		b.PartnerLabels[i] = []string{"A", "B"}[partner]
		if i%4 == 3 {
			b.AnchorLabels[i] = dataset.Unlabeled
			continue
		}
		b.Classes.Set(i, class, 1)
	}
	return b
}

func newTestModel(t *testing.T, arch layers.Architecture, opt optimizer.Optimizer, seed int64) *TrainingModel {
	t.Helper()
	if opt == nil {
		var err error
		opt, err = optimizer.New("adam", 0.01)
		require.NoError(t, err)
	}
	m, err := New(arch, 3, 2, opt, training.DefaultLossWeights(), seed)
	require.NoError(t, err)
	return m
}

func snapshot(params []*optimizer.Parameter) map[string][]float64 {
	out := make(map[string][]float64, len(params))
	for _, p := range params {
		out[p.Name] = append([]float64(nil), p.Value...)
	}
	return out
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	m := newTestModel(t, smallArchitecture(0), nil, 3)
	b := toyBatch(12, 4)

	_, err := m.computeGradients(b)
	require.NoError(t, err)

	const eps = 1e-6
	for _, p := range m.Parameters() {
		analytic := append([]float64(nil), p.Grad...)
		for _, idx := range []int{0, len(p.Value) / 2, len(p.Value) - 1} {
			orig := p.Value[idx]

			p.Value[idx] = orig + eps
			plus, err := m.loss(b)
			require.NoError(t, err)
			p.Value[idx] = orig - eps
			minus, err := m.loss(b)
			require.NoError(t, err)
			p.Value[idx] = orig

			numeric := (plus.Total - minus.Total) / (2 * eps)
			tol := 1e-5 + 1e-3*math.Abs(analytic[idx])
			assert.InDelta(t, numeric, analytic[idx], tol, "%s[%d]", p.Name, idx)
		}
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	m := newTestModel(t, smallArchitecture(0), nil, 11)
	b := toyBatch(32, 5)

	first, err := m.TrainStep(b)
	require.NoError(t, err)
	for i := 0; i < 150; i++ {
		_, err = m.TrainStep(b)
		require.NoError(t, err)
	}
	last, err := m.loss(b)
	require.NoError(t, err)

	assert.Less(t, last.Total, first.Loss.Total)
	assert.Less(t, last.Classification, first.Loss.Classification)
	assert.Equal(t, uint64(151), m.Optimizer().GetStepCount())
}

func TestTrainStepReportsBothLosses(t *testing.T) {
	opt, err := optimizer.New("sgd", 0.01)
	require.NoError(t, err)
	m, err := New(smallArchitecture(0.25), 3, 2, opt, training.LossWeights{Classification: 2, Relation: 0.5}, 1)
	require.NoError(t, err)

	out, err := m.TrainStep(toyBatch(8, 2))
	require.NoError(t, err)
	assert.Greater(t, out.Loss.Classification, 0.0)
	assert.Greater(t, out.Loss.Relation, 0.0)
	assert.InDelta(t, 2*out.Loss.Classification+0.5*out.Loss.Relation, out.Loss.Total, 1e-12)

	rows, cols := out.Prediction.ClassProbs.Dims()
	assert.Equal(t, 8, rows)
	assert.Equal(t, 2, cols)
	assert.Len(t, out.Prediction.Relation, 8)
}

func TestPredictBatchDoesNotMutate(t *testing.T) {
	m := newTestModel(t, smallArchitecture(0.5), nil, 7)
	b := toyBatch(10, 8)
	before := snapshot(m.Parameters())

	p1, err := m.PredictBatch(b)
	require.NoError(t, err)
	p2, err := m.PredictBatch(b)
	require.NoError(t, err)

	assert.Equal(t, before, snapshot(m.Parameters()))
	assert.True(t, mat.Equal(p1.ClassProbs, p2.ClassProbs))
	assert.Equal(t, p1.Relation, p2.Relation)
	assert.Equal(t, uint64(0), m.Optimizer().GetStepCount())

	for i := 0; i < 10; i++ {
		row := p1.ClassProbs.RawRowView(i)
		assert.InDelta(t, 1.0, row[0]+row[1], 1e-12)
		assert.True(t, p1.Relation[i] > 0 && p1.Relation[i] < 1)
	}
}

func TestSimilarityModelSharesEncoder(t *testing.T) {
	m := newTestModel(t, smallArchitecture(0), nil, 5)
	sim := m.Similarity()
	require.Same(t, m.Encoder(), sim.Encoder())

	b := toyBatch(16, 6)
	before, err := sim.EmbedSimilarity(b)
	require.NoError(t, err)
	for _, s := range before {
		assert.True(t, s >= -1 && s <= 1)
	}

	_, err = m.TrainStep(b)
	require.NoError(t, err)

	after, err := sim.EmbedSimilarity(b)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	// a second wrapper sees the same weights
	again, err := NewSimilarityModel(m.Encoder()).EmbedSimilarity(b)
	require.NoError(t, err)
	assert.Equal(t, after, again)
}

func TestNewIsSeeded(t *testing.T) {
	a := newTestModel(t, smallArchitecture(0), nil, 42)
	b := newTestModel(t, smallArchitecture(0), nil, 42)
	c := newTestModel(t, smallArchitecture(0), nil, 43)

	assert.Equal(t, snapshot(a.Parameters()), snapshot(b.Parameters()))
	assert.NotEqual(t, snapshot(a.Parameters()), snapshot(c.Parameters()))

	var total int64
	for _, p := range a.Parameters() {
		total += int64(len(p.Value))
	}
	assert.Equal(t, a.Spec().TotalParameters(), total)
}

func TestLoadParameters(t *testing.T) {
	src := newTestModel(t, smallArchitecture(0), nil, 1)
	dst := newTestModel(t, smallArchitecture(0), nil, 2)
	b := toyBatch(6, 3)

	values := snapshot(src.Parameters())
	require.NoError(t, dst.LoadParameters(values))

	want, err := src.PredictBatch(b)
	require.NoError(t, err)
	got, err := dst.PredictBatch(b)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want.ClassProbs, got.ClassProbs, 1e-15))

	missing := snapshot(src.Parameters())
	delete(missing, "anchor.hidden1.weight")
	assert.Error(t, dst.LoadParameters(missing))

	short := snapshot(src.Parameters())
	short["output1.dense.bias"] = []float64{1}
	assert.Error(t, dst.LoadParameters(short))

	extra := snapshot(src.Parameters())
	extra["bogus"] = []float64{1}
	assert.Error(t, dst.LoadParameters(extra))
}

func TestEmbed(t *testing.T) {
	m := newTestModel(t, smallArchitecture(0), nil, 1)
	b := toyBatch(4, 1)

	z, err := m.Embed(b.Anchors)
	require.NoError(t, err)
	rows, cols := z.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 5, cols)

	_, err = m.Embed(mat.NewDense(2, 7, nil))
	assert.Error(t, err)
}

func TestClassifyMatchesPredictBatch(t *testing.T) {
	m := newTestModel(t, smallArchitecture(0.3), nil, 5)
	b := toyBatch(6, 2)

	pred, err := m.PredictBatch(b)
	require.NoError(t, err)
	probs, err := m.Classify(b.Anchors)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(pred.ClassProbs, probs, 1e-12))

	_, err = m.Classify(mat.NewDense(2, 7, nil))
	assert.Error(t, err)
}

func TestTrainStepRejectsBadBatches(t *testing.T) {
	m := newTestModel(t, smallArchitecture(0), nil, 1)

	_, err := m.TrainStep(nil)
	assert.Error(t, err)

	b := toyBatch(4, 1)
	b.Partners = mat.NewDense(4, 2, nil)
	_, err = m.TrainStep(b)
	assert.Error(t, err)

	b = toyBatch(4, 1)
	b.Classes = mat.NewDense(4, 3, nil)
	_, err = m.TrainStep(b)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), m.Optimizer().GetStepCount())
}

func TestNewRequiresOptimizer(t *testing.T) {
	_, err := New(smallArchitecture(0), 3, 2, nil, training.DefaultLossWeights(), 1)
	assert.Error(t, err)

	opt, _ := optimizer.New("sgd", 0.1)
	_, err = New(smallArchitecture(0), 0, 2, opt, training.DefaultLossWeights(), 1)
	assert.Error(t, err)
}

func TestLearningRate(t *testing.T) {
	opt, err := optimizer.New("sgd", 0.1)
	require.NoError(t, err)
	m, err := New(smallArchitecture(0), 3, 2, opt, training.DefaultLossWeights(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0.1, m.LearningRate())
	m.SetLearningRate(0.05)
	assert.Equal(t, 0.05, m.LearningRate())
	assert.Equal(t, 0.05, opt.GetLearningRate())
}
