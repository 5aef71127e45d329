package layers

import (
	"fmt"
	"strings"
)

// Architecture holds the twin-tower hyperparameters. Units1..Units4 are the
// widths of the z1..z4 hidden representations.
type Architecture struct {
	// FeatureUnits adds a Dense+Dropout+ReLU feature block in front of each
	// tower; 0 feeds the raw features straight into the trunk.
	FeatureUnits   int     `json:"feature_units" yaml:"feature_units"`
	FeatureDropout float64 `json:"feature_dropout" yaml:"feature_dropout"`

	Units1 int `json:"units1" yaml:"units1"` // trunk, x -> z1
	Units2 int `json:"units2" yaml:"units2"` // class branch from the trunk, z1 -> z2
	Units3 int `json:"units3" yaml:"units3"` // target and context embeddings, z1 -> z3
	Units4 int `json:"units4" yaml:"units4"` // class branch from the target, z3 -> z4

	ClassDropout    float64 `json:"class_dropout" yaml:"class_dropout"`
	RelationDropout float64 `json:"relation_dropout" yaml:"relation_dropout"`
}

// DefaultArchitecture returns the reference widths 200/150/120/100 with 0.25 dropout
func DefaultArchitecture() Architecture {
	return Architecture{
		FeatureUnits:    0,
		FeatureDropout:  0.25,
		Units1:          200,
		Units2:          150,
		Units3:          120,
		Units4:          100,
		ClassDropout:    0.25,
		RelationDropout: 0.25,
	}
}

// TwinTowerSpec is the compiled dual-objective architecture. The anchor
// trunk, anchor target and partner tower form the shared encoder; the
// remaining stacks belong to the training heads.
type TwinTowerSpec struct {
	Architecture Architecture
	InputDim     int
	NumClasses   int

	AnchorTrunk  *ModelSpec // x -> z1
	AnchorTarget *ModelSpec // z1 -> z3
	PartnerTower *ModelSpec // x' -> context
	TrunkBranch  *ModelSpec // z1 -> z2
	TargetBranch *ModelSpec // z3 -> z4
	Classifier   *ModelSpec // [z2 z4] -> class distribution
	RelationHead *ModelSpec // <z3, context> -> relation probability
}

// TwinTower compiles every stack of the architecture for inputDim features
// and numClasses known labels
func TwinTower(arch Architecture, inputDim, numClasses int) (*TwinTowerSpec, error) {
	if inputDim < 1 {
		return nil, fmt.Errorf("input dimension must be positive, got %d", inputDim)
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("need at least one class, got %d", numClasses)
	}

	spec := &TwinTowerSpec{Architecture: arch, InputDim: inputDim, NumClasses: numClasses}

	tower := func(name string) *ModelBuilder {
		b := NewModelBuilder(name, inputDim)
		if arch.FeatureUnits > 0 {
			b.AddDense(arch.FeatureUnits, true, name+".feature").
				AddDropout(arch.FeatureDropout, name+".feature_dropout").
				AddReLU(name + ".feature_relu")
		}
		return b.AddDense(arch.Units1, true, name+".hidden1").AddReLU(name + ".hidden1_relu")
	}

	var err error
	compile := func(dst **ModelSpec, b *ModelBuilder) {
		if err != nil {
			return
		}
		*dst, err = b.Compile()
	}

	compile(&spec.AnchorTrunk, tower("anchor"))
	compile(&spec.AnchorTarget, NewModelBuilder("target", arch.Units1).
		AddDense(arch.Units3, true, "target.dense").
		AddReLU("target.relu"))
	compile(&spec.PartnerTower, tower("partner").
		AddDense(arch.Units3, true, "partner.context").
		AddReLU("partner.context_relu"))
	compile(&spec.TrunkBranch, NewModelBuilder("hidden2", arch.Units1).
		AddDense(arch.Units2, true, "hidden2.dense").
		AddReLU("hidden2.relu"))
	compile(&spec.TargetBranch, NewModelBuilder("hidden4", arch.Units3).
		AddDense(arch.Units4, true, "hidden4.dense").
		AddReLU("hidden4.relu"))
	compile(&spec.Classifier, NewModelBuilder("output1", arch.Units2+arch.Units4).
		AddDropout(arch.ClassDropout, "output1.dropout").
		AddDense(numClasses, true, "output1.dense").
		AddSoftmax("output1.softmax"))
	compile(&spec.RelationHead, NewModelBuilder("output2", 1).
		AddDropout(arch.RelationDropout, "output2.dropout").
		AddDense(1, true, "output2.dense").
		AddSigmoid("output2.sigmoid"))
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// EncoderStacks returns the stacks whose weights are shared between the
// training and similarity models
func (s *TwinTowerSpec) EncoderStacks() []*ModelSpec {
	return []*ModelSpec{s.AnchorTrunk, s.AnchorTarget, s.PartnerTower}
}

// HeadStacks returns the stacks owned by the training model alone
func (s *TwinTowerSpec) HeadStacks() []*ModelSpec {
	return []*ModelSpec{s.TrunkBranch, s.TargetBranch, s.Classifier, s.RelationHead}
}

// TotalParameters sums the learnable parameters of every stack
func (s *TwinTowerSpec) TotalParameters() int64 {
	var total int64
	for _, ms := range append(s.EncoderStacks(), s.HeadStacks()...) {
		total += ms.TotalParameters
	}
	return total
}

// Summary renders every stack, encoder first
func (s *TwinTowerSpec) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "twin tower: %d features, %d classes, %d parameters\n", s.InputDim, s.NumClasses, s.TotalParameters())
	b.WriteString("shared encoder\n")
	for _, ms := range s.EncoderStacks() {
		b.WriteString(ms.Summary())
	}
	b.WriteString("training heads\n")
	for _, ms := range s.HeadStacks() {
		b.WriteString(ms.Summary())
	}
	return b.String()
}
