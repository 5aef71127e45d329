package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-graphsemi/layers"
	"github.com/tsawler/go-graphsemi/optimizer"
	"gonum.org/v1/gonum/mat"
)

// layer is one executable step of a Stack. Backward consumes the gradient
// with respect to the layer output, stores parameter gradients and returns
// the gradient with respect to the input of the last Forward call.
type layer interface {
	Forward(x *mat.Dense, train bool) *mat.Dense
	Backward(grad *mat.Dense) *mat.Dense
	Parameters() []*optimizer.Parameter
}

// newLayer turns a compiled spec into an executable layer
func newLayer(spec layers.LayerSpec, rng *rand.Rand) (layer, error) {
	switch spec.Type {
	case layers.Dense:
		in := spec.IntParam("input_size", 0)
		out := spec.IntParam("output_size", 0)
		if in < 1 || out < 1 {
			return nil, fmt.Errorf("layer %s: dense layer needs compiled sizes, got %dx%d", spec.Name, in, out)
		}
		return newDense(spec.Name, in, out, spec.BoolParam("use_bias", true), rng), nil
	case layers.ReLU:
		return &relu{}, nil
	case layers.Dropout:
		return &dropout{rate: spec.FloatParam("rate", 0), rng: rng}, nil
	case layers.Softmax:
		return &softmax{}, nil
	case layers.Sigmoid:
		return &sigmoid{}, nil
	default:
		return nil, fmt.Errorf("layer %s: unsupported type %s", spec.Name, spec.Type)
	}
}

// dense computes x*W + b with W stored in x out
type dense struct {
	weight, bias *optimizer.Parameter
	w, dw        *mat.Dense
	in, out      int
	input        *mat.Dense
	useBias      bool
}

// newDense initialises W with Glorot uniform values and b with zeros
func newDense(name string, in, out int, useBias bool, rng *rand.Rand) *dense {
	limit := math.Sqrt(6 / float64(in+out))
	values := make([]float64, in*out)
	for i := range values {
		values[i] = (rng.Float64()*2 - 1) * limit
	}

	d := &dense{
		w:       mat.NewDense(in, out, values),
		dw:      mat.NewDense(in, out, nil),
		in:      in,
		out:     out,
		useBias: useBias,
	}
	d.weight = &optimizer.Parameter{
		Name:  name + ".weight",
		Shape: []int{in, out},
		Value: d.w.RawMatrix().Data,
		Grad:  d.dw.RawMatrix().Data,
	}
	if useBias {
		d.bias = &optimizer.Parameter{
			Name:  name + ".bias",
			Shape: []int{out},
			Value: make([]float64, out),
			Grad:  make([]float64, out),
		}
	}
	return d
}

func (d *dense) Forward(x *mat.Dense, train bool) *mat.Dense {
	d.input = x
	rows, _ := x.Dims()
	y := mat.NewDense(rows, d.out, nil)
	y.Mul(x, d.w)
	if d.useBias {
		for i := 0; i < rows; i++ {
			row := y.RawRowView(i)
			for j, b := range d.bias.Value {
				row[j] += b
			}
		}
	}
	return y
}

func (d *dense) Backward(grad *mat.Dense) *mat.Dense {
	d.dw.Mul(d.input.T(), grad)
	if d.useBias {
		for j := range d.bias.Grad {
			d.bias.Grad[j] = 0
		}
		rows, _ := grad.Dims()
		for i := 0; i < rows; i++ {
			for j, g := range grad.RawRowView(i) {
				d.bias.Grad[j] += g
			}
		}
	}

	rows, _ := grad.Dims()
	dx := mat.NewDense(rows, d.in, nil)
	dx.Mul(grad, d.w.T())
	return dx
}

func (d *dense) Parameters() []*optimizer.Parameter {
	if d.useBias {
		return []*optimizer.Parameter{d.weight, d.bias}
	}
	return []*optimizer.Parameter{d.weight}
}

type relu struct {
	input *mat.Dense
}

func (r *relu) Forward(x *mat.Dense, train bool) *mat.Dense {
	r.input = x
	y := mat.DenseCopyOf(x)
	y.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, y)
	return y
}

func (r *relu) Backward(grad *mat.Dense) *mat.Dense {
	dx := mat.DenseCopyOf(grad)
	dx.Apply(func(i, j int, g float64) float64 {
		if r.input.At(i, j) > 0 {
			return g
		}
		return 0
	}, dx)
	return dx
}

func (r *relu) Parameters() []*optimizer.Parameter { return nil }

// dropout zeroes each unit with probability rate during training and
// rescales survivors by 1/(1-rate). Inference is the identity and draws no
// random numbers.
type dropout struct {
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

func (d *dropout) Forward(x *mat.Dense, train bool) *mat.Dense {
	if !train || d.rate == 0 {
		d.mask = nil
		return x
	}

	rows, cols := x.Dims()
	scale := 1 / (1 - d.rate)
	d.mask = mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := d.mask.RawRowView(i)
		for j := range row {
			if d.rng.Float64() >= d.rate {
				row[j] = scale
			}
		}
	}

	y := mat.NewDense(rows, cols, nil)
	y.MulElem(x, d.mask)
	return y
}

func (d *dropout) Backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	rows, cols := grad.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.MulElem(grad, d.mask)
	return dx
}

func (d *dropout) Parameters() []*optimizer.Parameter { return nil }

// softmax normalises each row
type softmax struct {
	output *mat.Dense
}

func (s *softmax) Forward(x *mat.Dense, train bool) *mat.Dense {
	rows, cols := x.Dims()
	y := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		in, out := x.RawRowView(i), y.RawRowView(i)
		maxVal := in[0]
		for _, v := range in[1:] {
			maxVal = math.Max(maxVal, v)
		}
		var sum float64
		for j, v := range in {
			out[j] = math.Exp(v - maxVal)
			sum += out[j]
		}
		for j := range out {
			out[j] /= sum
		}
	}
	s.output = y
	return y
}

func (s *softmax) Backward(grad *mat.Dense) *mat.Dense {
	rows, cols := grad.Dims()
	dx := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		y, g, out := s.output.RawRowView(i), grad.RawRowView(i), dx.RawRowView(i)
		var dot float64
		for j := range y {
			dot += y[j] * g[j]
		}
		for j := range y {
			out[j] = y[j] * (g[j] - dot)
		}
	}
	return dx
}

func (s *softmax) Parameters() []*optimizer.Parameter { return nil }

type sigmoid struct {
	output *mat.Dense
}

func (s *sigmoid) Forward(x *mat.Dense, train bool) *mat.Dense {
	y := mat.DenseCopyOf(x)
	y.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, y)
	s.output = y
	return y
}

func (s *sigmoid) Backward(grad *mat.Dense) *mat.Dense {
	dx := mat.DenseCopyOf(grad)
	dx.Apply(func(i, j int, g float64) float64 {
		y := s.output.At(i, j)
		return g * y * (1 - y)
	}, dx)
	return dx
}

func (s *sigmoid) Parameters() []*optimizer.Parameter { return nil }
