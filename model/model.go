// Package model is a CPU implementation of the dual-objective model: a
// shared twin-tower encoder, a training wrapper with classification and
// relation heads, and a similarity wrapper without a classification head.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/tsawler/go-graphsemi/layers"
	"github.com/tsawler/go-graphsemi/optimizer"
	"github.com/tsawler/go-graphsemi/training"
	"gonum.org/v1/gonum/mat"
)

// TrainingModel implements training.Model
type TrainingModel struct {
	spec    *layers.TwinTowerSpec
	encoder *Encoder

	trunkBranch  *Stack
	targetBranch *Stack
	classifier   *Stack
	relationHead *Stack

	opt     optimizer.Optimizer
	weights training.LossWeights
	ce      *training.CrossEntropyLoss
	bce     *training.BinaryCrossEntropyLoss
}

var (
	_ training.Model           = (*TrainingModel)(nil)
	_ training.SimilarityModel = (*SimilarityModel)(nil)
)

// New builds the encoder and both heads for inputDim features and
// numClasses known labels. Weights and dropout masks are drawn from a
// generator seeded with seed.
func New(arch layers.Architecture, inputDim, numClasses int, opt optimizer.Optimizer, weights training.LossWeights, seed int64) (*TrainingModel, error) {
	if opt == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	spec, err := layers.TwinTower(arch, inputDim, numClasses)
	if err != nil {
		return nil, errors.Wrap(err, "compile architecture")
	}

	rng := rand.New(rand.NewSource(seed))
	stacks := make(map[*layers.ModelSpec]*Stack)
	for _, ms := range append(spec.EncoderStacks(), spec.HeadStacks()...) {
		s, err := NewStack(ms, rng)
		if err != nil {
			return nil, err
		}
		stacks[ms] = s
	}

	return &TrainingModel{
		spec: spec,
		encoder: &Encoder{
			AnchorTrunk:  stacks[spec.AnchorTrunk],
			AnchorTarget: stacks[spec.AnchorTarget],
			PartnerTower: stacks[spec.PartnerTower],
			inputDim:     inputDim,
		},
		trunkBranch:  stacks[spec.TrunkBranch],
		targetBranch: stacks[spec.TargetBranch],
		classifier:   stacks[spec.Classifier],
		relationHead: stacks[spec.RelationHead],
		opt:          opt,
		weights:      weights,
		ce:           training.NewCrossEntropyLoss(),
		bce:          training.NewBinaryCrossEntropyLoss(),
	}, nil
}

// Spec returns the compiled architecture
func (m *TrainingModel) Spec() *layers.TwinTowerSpec {
	return m.spec
}

// Encoder returns the shared encoder
func (m *TrainingModel) Encoder() *Encoder {
	return m.encoder
}

// Similarity returns a similarity model sharing this model's encoder
func (m *TrainingModel) Similarity() *SimilarityModel {
	return NewSimilarityModel(m.encoder)
}

// Optimizer returns the optimizer driving TrainStep
func (m *TrainingModel) Optimizer() optimizer.Optimizer {
	return m.opt
}

func (m *TrainingModel) LossWeights() training.LossWeights {
	return m.weights
}

func (m *TrainingModel) SetLearningRate(lr float64) {
	m.opt.UpdateLearningRate(lr)
}

func (m *TrainingModel) LearningRate() float64 {
	return m.opt.GetLearningRate()
}

// Embed returns target embeddings for every row of x
func (m *TrainingModel) Embed(x *mat.Dense) (*mat.Dense, error) {
	return m.encoder.Embed(x)
}

// Classify returns class probabilities for every row of x. Only the anchor
// path feeds the classifier, so no partner is needed.
func (m *TrainingModel) Classify(x *mat.Dense) (*mat.Dense, error) {
	if err := m.encoder.checkInput(x); err != nil {
		return nil, err
	}
	z1 := m.encoder.AnchorTrunk.Forward(x, false)
	z3 := m.encoder.AnchorTarget.Forward(z1, false)
	return m.classifier.Forward(hconcat(m.trunkBranch.Forward(z1, false), m.targetBranch.Forward(z3, false)), false), nil
}

// Parameters returns every learnable parameter, encoder first
func (m *TrainingModel) Parameters() []*optimizer.Parameter {
	params := m.encoder.Parameters()
	for _, s := range m.headStacks() {
		params = append(params, s.Parameters()...)
	}
	return params
}

func (m *TrainingModel) headStacks() []*Stack {
	return []*Stack{m.trunkBranch, m.targetBranch, m.classifier, m.relationHead}
}

// LoadParameters copies values by parameter name. Every parameter must be
// present with a matching size.
func (m *TrainingModel) LoadParameters(values map[string][]float64) error {
	params := m.Parameters()
	for _, p := range params {
		v, ok := values[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %s", p.Name)
		}
		if len(v) != len(p.Value) {
			return fmt.Errorf("parameter %s: expected %d values, got %d", p.Name, len(p.Value), len(v))
		}
	}
	if len(values) != len(params) {
		return fmt.Errorf("expected %d parameters, got %d", len(params), len(values))
	}
	for _, p := range params {
		copy(p.Value, values[p.Name])
	}
	return nil
}

// heads is the forward state TrainStep needs for backpropagation
type heads struct {
	enc    *encoding
	z2, z4 *mat.Dense
	dot    *mat.Dense
	pred   *training.Prediction
}

func (m *TrainingModel) forward(b *training.Batch, train bool) (*heads, error) {
	if b == nil || b.Size() == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	enc, err := m.encoder.encode(b, train)
	if err != nil {
		return nil, err
	}

	h := &heads{enc: enc}
	h.z2 = m.trunkBranch.Forward(enc.z1, train)
	h.z4 = m.targetBranch.Forward(enc.z3, train)
	probs := m.classifier.Forward(hconcat(h.z2, h.z4), train)

	h.dot = rowDot(enc.z3, enc.context)
	scores := m.relationHead.Forward(h.dot, train)

	h.pred = &training.Prediction{
		ClassProbs: probs,
		Relation:   mat.Col(nil, 0, scores),
	}
	return h, nil
}

// PredictBatch runs both heads in inference mode. Dropout is disabled and
// no weights change.
func (m *TrainingModel) PredictBatch(b *training.Batch) (*training.Prediction, error) {
	h, err := m.forward(b, false)
	if err != nil {
		return nil, err
	}
	return h.pred, nil
}

// TrainStep runs a forward pass with dropout, backpropagates the weighted
// loss through both heads into the shared encoder and applies one
// optimizer step.
func (m *TrainingModel) TrainStep(b *training.Batch) (*training.StepOutput, error) {
	out, err := m.computeGradients(b)
	if err != nil {
		return nil, err
	}
	if err := m.opt.Step(m.Parameters()); err != nil {
		return nil, errors.Wrap(err, "optimizer step")
	}
	return out, nil
}

// computeGradients fills every parameter gradient for batch b
func (m *TrainingModel) computeGradients(b *training.Batch) (*training.StepOutput, error) {
	h, err := m.forward(b, true)
	if err != nil {
		return nil, err
	}
	if _, c := b.Classes.Dims(); c != m.spec.NumClasses {
		return nil, fmt.Errorf("expected %d classes, got %d", m.spec.NumClasses, c)
	}

	classLoss, _, err := m.ce.Forward(h.pred.ClassProbs, b.Classes)
	if err != nil {
		return nil, errors.Wrap(err, "classification loss")
	}
	relLoss, err := m.bce.Forward(h.pred.Relation, b.Relations)
	if err != nil {
		return nil, errors.Wrap(err, "relation loss")
	}
	loss := m.weights.Combine(classLoss, relLoss)
	if math.IsNaN(loss.Total) || math.IsInf(loss.Total, 0) {
		return nil, fmt.Errorf("non-finite loss %v", loss.Total)
	}

	gClass, err := m.ce.Backward(h.pred.ClassProbs, b.Classes)
	if err != nil {
		return nil, err
	}
	gClass.Scale(m.weights.Classification, gClass)

	gRel, err := m.bce.Backward(h.pred.Relation, b.Relations)
	if err != nil {
		return nil, err
	}
	for i := range gRel {
		gRel[i] *= m.weights.Relation
	}

	// classification head
	dConcat := m.classifier.BackwardFromLogits(gClass)
	_, w2 := h.z2.Dims()
	rows, wc := dConcat.Dims()
	dz1 := m.trunkBranch.Backward(mat.DenseCopyOf(dConcat.Slice(0, rows, 0, w2)))
	dz3 := m.targetBranch.Backward(mat.DenseCopyOf(dConcat.Slice(0, rows, w2, wc)))

	// relation head: d(z3 . ctx)/dz3 = ctx and /dctx = z3
	dDot := m.relationHead.BackwardFromLogits(mat.NewDense(rows, 1, gRel))
	z3, ctx := h.enc.z3, h.enc.context
	_, wz := z3.Dims()
	dCtx := mat.NewDense(rows, wz, nil)
	for i := 0; i < rows; i++ {
		g := dDot.At(i, 0)
		zr, cr := z3.RawRowView(i), ctx.RawRowView(i)
		dz, dc := dz3.RawRowView(i), dCtx.RawRowView(i)
		for j := range zr {
			dz[j] += g * cr[j]
			dc[j] = g * zr[j]
		}
	}

	dz1.Add(dz1, m.encoder.AnchorTarget.Backward(dz3))
	m.encoder.AnchorTrunk.Backward(dz1)
	m.encoder.PartnerTower.Backward(dCtx)

	return &training.StepOutput{Loss: loss, Prediction: h.pred}, nil
}

// loss evaluates the weighted loss in inference mode
func (m *TrainingModel) loss(b *training.Batch) (training.LossBreakdown, error) {
	h, err := m.forward(b, false)
	if err != nil {
		return training.LossBreakdown{}, err
	}
	classLoss, _, err := m.ce.Forward(h.pred.ClassProbs, b.Classes)
	if err != nil {
		return training.LossBreakdown{}, err
	}
	relLoss, err := m.bce.Forward(h.pred.Relation, b.Relations)
	if err != nil {
		return training.LossBreakdown{}, err
	}
	return m.weights.Combine(classLoss, relLoss), nil
}

func hconcat(a, b *mat.Dense) *mat.Dense {
	rows, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(rows, ca+cb, nil)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		copy(row[:ca], a.RawRowView(i))
		copy(row[ca:], b.RawRowView(i))
	}
	return out
}

// rowDot returns the per-row inner product of a and b as a column
func rowDot(a, b *mat.Dense) *mat.Dense {
	rows, _ := a.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, mat.Dot(a.RowView(i), b.RowView(i)))
	}
	return out
}
