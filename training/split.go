package training

import (
	"math"
	"math/rand"

	"github.com/tsawler/go-graphsemi/errdefs"
	"github.com/tsawler/go-graphsemi/sampling"
)

// ratioTolerance bounds how far split ratios may sum away from 1
const ratioTolerance = 1e-6

// SplitRatios are the train/validation/test fractions
type SplitRatios struct {
	Train      float64 `yaml:"train"`
	Validation float64 `yaml:"validation"`
	Test       float64 `yaml:"test"`
}

// DefaultSplitRatios returns 60/20/20
func DefaultSplitRatios() SplitRatios {
	return SplitRatios{Train: 0.6, Validation: 0.2, Test: 0.2}
}

// Validate checks the ratios are non-negative and sum to 1
func (r SplitRatios) Validate() error {
	for _, v := range []float64{r.Train, r.Validation, r.Test} {
		if !(v >= 0) {
			return errdefs.InvalidInput("training.SplitPairs", "ratios must be non-negative, got %v", r)
		}
	}
	if sum := r.Train + r.Validation + r.Test; math.Abs(sum-1) > ratioTolerance {
		return errdefs.InvalidInput("training.SplitPairs", "ratios must sum to 1, got %g", sum)
	}
	return nil
}

// Split holds three disjoint partitions of the sampled pairs
type Split struct {
	Train      []sampling.ContextPair
	Validation []sampling.ContextPair
	Test       []sampling.ContextPair
}

// Sizes returns the number of pairs per partition
func (s *Split) Sizes() (train, validation, test int) {
	return len(s.Train), len(s.Validation), len(s.Test)
}

// SplitPairs shuffles pairs with seed and cuts the permutation into
// train = round(n*r.Train), validation = round(n*r.Validation) and the
// remainder as test. The partitions are disjoint and together hold every
// input pair exactly once.
func SplitPairs(pairs []sampling.ContextPair, ratios SplitRatios, seed int64) (*Split, error) {
	if len(pairs) == 0 {
		return nil, errdefs.InvalidInput("training.SplitPairs", "no pairs to split")
	}
	if err := ratios.Validate(); err != nil {
		return nil, err
	}

	n := len(pairs)
	nTrain := int(math.Round(float64(n) * ratios.Train))
	if nTrain > n {
		nTrain = n
	}
	nVal := int(math.Round(float64(n) * ratios.Validation))
	if nTrain+nVal > n {
		nVal = n - nTrain
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	take := func(idx []int) []sampling.ContextPair {
		out := make([]sampling.ContextPair, len(idx))
		for i, j := range idx {
			out[i] = pairs[j]
		}
		return out
	}

	return &Split{
		Train:      take(perm[:nTrain]),
		Validation: take(perm[nTrain : nTrain+nVal]),
		Test:       take(perm[nTrain+nVal:]),
	}, nil
}
