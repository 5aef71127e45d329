package model

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-graphsemi/layers"
	"github.com/tsawler/go-graphsemi/optimizer"
	"gonum.org/v1/gonum/mat"
)

// Stack executes a compiled layers.ModelSpec
type Stack struct {
	spec   *layers.ModelSpec
	layers []layer
}

// NewStack builds the layers of spec, drawing initial weights and dropout
// masks from rng
func NewStack(spec *layers.ModelSpec, rng *rand.Rand) (*Stack, error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("stack needs a compiled model spec")
	}

	s := &Stack{spec: spec}
	for _, ls := range spec.Layers {
		l, err := newLayer(ls, rng)
		if err != nil {
			return nil, fmt.Errorf("stack %s: %w", spec.Name, err)
		}
		s.layers = append(s.layers, l)
	}
	return s, nil
}

// Name returns the ModelSpec name
func (s *Stack) Name() string {
	return s.spec.Name
}

// OutputSize returns the width of the stack output
func (s *Stack) OutputSize() int {
	return s.spec.OutputSize()
}

// Forward runs every layer in order
func (s *Stack) Forward(x *mat.Dense, train bool) *mat.Dense {
	for _, l := range s.layers {
		x = l.Forward(x, train)
	}
	return x
}

// Backward propagates grad (with respect to the stack output) to the
// stack input
func (s *Stack) Backward(grad *mat.Dense) *mat.Dense {
	return s.backwardFrom(len(s.layers)-1, grad)
}

// BackwardFromLogits propagates a gradient taken with respect to the
// input of the final activation, skipping that activation. It is used with
// losses whose gradient is simplest in logit space.
func (s *Stack) BackwardFromLogits(grad *mat.Dense) *mat.Dense {
	return s.backwardFrom(len(s.layers)-2, grad)
}

func (s *Stack) backwardFrom(last int, grad *mat.Dense) *mat.Dense {
	for i := last; i >= 0; i-- {
		grad = s.layers[i].Backward(grad)
	}
	return grad
}

// Parameters returns the learnable parameters in layer order
func (s *Stack) Parameters() []*optimizer.Parameter {
	var params []*optimizer.Parameter
	for _, l := range s.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}
