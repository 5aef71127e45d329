package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// clipEpsilon clips probabilities away from 0 and 1 before taking logs
const clipEpsilon = 1e-7

// LossWeights scales the two objectives: total = Classification*CE + Relation*BCE
type LossWeights struct {
	Classification float64 `json:"classification" yaml:"classification"`
	Relation       float64 `json:"relation" yaml:"relation"`
}

// DefaultLossWeights weights both objectives equally
func DefaultLossWeights() LossWeights {
	return LossWeights{Classification: 1, Relation: 1}
}

// Combine builds the breakdown for the given sub-losses
func (w LossWeights) Combine(classification, relation float64) LossBreakdown {
	return LossBreakdown{
		Classification: classification,
		Relation:       relation,
		Total:          w.Classification*classification + w.Relation*relation,
	}
}

// LossBreakdown reports both sub-losses alongside their weighted sum
type LossBreakdown struct {
	Classification float64
	Relation       float64
	Total          float64
}

// CrossEntropyLoss is categorical cross-entropy over softmax outputs. Rows
// whose one-hot target is all zero (unlabeled anchors) are masked out, and
// the mean is taken over the remaining rows.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new masked cross-entropy loss
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward returns the mean loss over labeled rows and how many rows counted.
// With no labeled rows the loss is 0.
func (ce *CrossEntropyLoss) Forward(probs, targets *mat.Dense) (float64, int, error) {
	if err := sameShape(probs, targets); err != nil {
		return 0, 0, err
	}

	rows, _ := probs.Dims()
	var total float64
	var labeled int
	for i := 0; i < rows; i++ {
		p, y := probs.RawRowView(i), targets.RawRowView(i)
		var rowLoss, mass float64
		for j, t := range y {
			if t == 0 {
				continue
			}
			mass += t
			rowLoss -= t * math.Log(clip(p[j]))
		}
		if mass == 0 {
			continue
		}
		total += rowLoss
		labeled++
	}

	if labeled == 0 {
		return 0, 0, nil
	}
	return total / float64(labeled), labeled, nil
}

// Backward returns the gradient of the mean loss with respect to the
// softmax logits, (p - y) / labeled, zero for unlabeled rows
func (ce *CrossEntropyLoss) Backward(probs, targets *mat.Dense) (*mat.Dense, error) {
	if err := sameShape(probs, targets); err != nil {
		return nil, err
	}

	rows, cols := probs.Dims()
	grad := mat.NewDense(rows, cols, nil)

	var labeled int
	for i := 0; i < rows; i++ {
		if rowMass(targets.RawRowView(i)) > 0 {
			labeled++
		}
	}
	if labeled == 0 {
		return grad, nil
	}

	scale := 1 / float64(labeled)
	for i := 0; i < rows; i++ {
		y := targets.RawRowView(i)
		if rowMass(y) == 0 {
			continue
		}
		p, g := probs.RawRowView(i), grad.RawRowView(i)
		for j := range g {
			g[j] = (p[j] - y[j]) * scale
		}
	}
	return grad, nil
}

// BinaryCrossEntropyLoss is mean binary cross-entropy over sigmoid outputs
type BinaryCrossEntropyLoss struct{}

// NewBinaryCrossEntropyLoss creates a new binary cross-entropy loss
func NewBinaryCrossEntropyLoss() *BinaryCrossEntropyLoss {
	return &BinaryCrossEntropyLoss{}
}

// Forward returns the mean loss
func (bce *BinaryCrossEntropyLoss) Forward(scores, targets []float64) (float64, error) {
	if len(scores) != len(targets) {
		return 0, fmt.Errorf("batch size mismatch: scores %d, targets %d", len(scores), len(targets))
	}
	if len(scores) == 0 {
		return 0, fmt.Errorf("empty batch")
	}

	var total float64
	for i, s := range scores {
		s = clip(s)
		t := targets[i]
		total -= t*math.Log(s) + (1-t)*math.Log(1-s)
	}
	return total / float64(len(scores)), nil
}

// Backward returns the gradient of the mean loss with respect to the
// sigmoid logits, (s - t) / n
func (bce *BinaryCrossEntropyLoss) Backward(scores, targets []float64) ([]float64, error) {
	if len(scores) != len(targets) {
		return nil, fmt.Errorf("batch size mismatch: scores %d, targets %d", len(scores), len(targets))
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	grad := make([]float64, len(scores))
	scale := 1 / float64(len(scores))
	for i, s := range scores {
		grad[i] = (s - targets[i]) * scale
	}
	return grad, nil
}

func clip(p float64) float64 {
	return math.Min(math.Max(p, clipEpsilon), 1-clipEpsilon)
}

func rowMass(row []float64) float64 {
	var m float64
	for _, v := range row {
		m += v
	}
	return m
}

func sameShape(a, b *mat.Dense) error {
	if a == nil || b == nil {
		return fmt.Errorf("nil matrix")
	}
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return fmt.Errorf("shape mismatch: predicted %dx%d, target %dx%d", ar, ac, br, bc)
	}
	return nil
}
