package model

import (
	"fmt"
	"math"

	"github.com/tsawler/go-graphsemi/optimizer"
	"github.com/tsawler/go-graphsemi/training"
	"gonum.org/v1/gonum/mat"
)

// Encoder holds the stacks shared by the training and similarity models:
// the anchor trunk (x -> z1), the anchor target projection (z1 -> z3) and
// the partner tower (x' -> context). Both wrappers hold the same pointer.
type Encoder struct {
	AnchorTrunk  *Stack
	AnchorTarget *Stack
	PartnerTower *Stack

	inputDim int
}

// encoding is one forward pass of the encoder
type encoding struct {
	z1, z3, context *mat.Dense
}

func (e *Encoder) encode(b *training.Batch, train bool) (*encoding, error) {
	if err := e.checkInput(b.Anchors); err != nil {
		return nil, fmt.Errorf("anchors: %w", err)
	}
	if err := e.checkInput(b.Partners); err != nil {
		return nil, fmt.Errorf("partners: %w", err)
	}

	z1 := e.AnchorTrunk.Forward(b.Anchors, train)
	return &encoding{
		z1:      z1,
		z3:      e.AnchorTarget.Forward(z1, train),
		context: e.PartnerTower.Forward(b.Partners, train),
	}, nil
}

func (e *Encoder) checkInput(x *mat.Dense) error {
	if x == nil {
		return fmt.Errorf("nil feature matrix")
	}
	if _, c := x.Dims(); c != e.inputDim {
		return fmt.Errorf("expected %d features, got %d", e.inputDim, c)
	}
	return nil
}

// Embed returns the target embedding (z3) of every row of x in inference
// mode
func (e *Encoder) Embed(x *mat.Dense) (*mat.Dense, error) {
	if err := e.checkInput(x); err != nil {
		return nil, err
	}
	return e.AnchorTarget.Forward(e.AnchorTrunk.Forward(x, false), false), nil
}

// Parameters returns the shared parameters in a fixed order
func (e *Encoder) Parameters() []*optimizer.Parameter {
	var params []*optimizer.Parameter
	for _, s := range []*Stack{e.AnchorTrunk, e.AnchorTarget, e.PartnerTower} {
		params = append(params, s.Parameters()...)
	}
	return params
}

// SimilarityModel scores pairs by the cosine similarity of the anchor
// target embedding and the partner context embedding. It owns no
// parameters of its own.
type SimilarityModel struct {
	encoder *Encoder
}

// NewSimilarityModel wraps a shared encoder
func NewSimilarityModel(encoder *Encoder) *SimilarityModel {
	return &SimilarityModel{encoder: encoder}
}

// Encoder returns the shared encoder
func (s *SimilarityModel) Encoder() *Encoder {
	return s.encoder
}

// EmbedSimilarity returns one cosine similarity in [-1, 1] per pair. A
// zero embedding scores 0.
func (s *SimilarityModel) EmbedSimilarity(b *training.Batch) ([]float64, error) {
	enc, err := s.encoder.encode(b, false)
	if err != nil {
		return nil, err
	}

	rows, _ := enc.z3.Dims()
	out := make([]float64, rows)
	for i := range out {
		a, c := enc.z3.RawRowView(i), enc.context.RawRowView(i)
		var dot, na, nc float64
		for j := range a {
			dot += a[j] * c[j]
			na += a[j] * a[j]
			nc += c[j] * c[j]
		}
		if na == 0 || nc == 0 {
			continue
		}
		out[i] = math.Max(-1, math.Min(1, dot/math.Sqrt(na*nc)))
	}
	return out, nil
}
