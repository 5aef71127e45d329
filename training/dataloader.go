package training

import (
	"math/rand"

	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/errdefs"
	"github.com/tsawler/go-graphsemi/sampling"
	"gonum.org/v1/gonum/mat"
)

// PairDataset resolves context pairs to the feature rows and targets the
// model consumes
type PairDataset struct {
	pairs     []sampling.ContextPair
	matrix    *dataset.FeatureMatrix
	labels    *dataset.LabelMap
	binarizer *dataset.LabelBinarizer
}

// NewPairDataset checks every pair index against matrix and labels
func NewPairDataset(pairs []sampling.ContextPair, matrix *dataset.FeatureMatrix, labels *dataset.LabelMap, binarizer *dataset.LabelBinarizer) (*PairDataset, error) {
	if matrix == nil || labels == nil || binarizer == nil {
		return nil, errdefs.InvalidInput("training.NewPairDataset", "matrix, labels and binarizer are required")
	}
	if err := labels.Validate(matrix.Rows()); err != nil {
		return nil, err
	}
	n := matrix.Rows()
	for i, p := range pairs {
		if p.Anchor < 0 || p.Anchor >= n || p.Partner < 0 || p.Partner >= n {
			return nil, errdefs.InvalidInput("training.NewPairDataset", "pair %d (%d,%d) out of range for %d samples", i, p.Anchor, p.Partner, n)
		}
		if p.Relation > 1 {
			return nil, errdefs.InvalidInput("training.NewPairDataset", "pair %d has relation %d", i, p.Relation)
		}
	}

	return &PairDataset{
		pairs:     pairs,
		matrix:    matrix,
		labels:    labels,
		binarizer: binarizer,
	}, nil
}

// Len returns the number of pairs
func (ds *PairDataset) Len() int {
	return len(ds.pairs)
}

// Pair returns pair i
func (ds *PairDataset) Pair(i int) sampling.ContextPair {
	return ds.pairs[i]
}

// Dims returns the feature width
func (ds *PairDataset) Dims() int {
	return ds.matrix.Dims()
}

// NumClasses returns the one-hot width
func (ds *PairDataset) NumClasses() int {
	return ds.binarizer.NumClasses()
}

// Binarizer returns the label encoder
func (ds *PairDataset) Binarizer() *dataset.LabelBinarizer {
	return ds.binarizer
}

// Batch gathers the pairs at the given positions, or returns nil for none
func (ds *PairDataset) Batch(indices []int) *Batch {
	size := len(indices)
	if size == 0 {
		return nil
	}
	d, c := ds.matrix.Dims(), ds.binarizer.NumClasses()

	b := &Batch{
		Anchors:       mat.NewDense(size, d, nil),
		Partners:      mat.NewDense(size, d, nil),
		Classes:       mat.NewDense(size, c, nil),
		Relations:     make([]float64, size),
		AnchorLabels:  make([]string, size),
		PartnerLabels: make([]string, size),
		Pairs:         make([]sampling.ContextPair, size),
	}
	for row, idx := range indices {
		p := ds.pairs[idx]
		b.Pairs[row] = p
		b.Anchors.SetRow(row, ds.matrix.Row(p.Anchor))
		b.Partners.SetRow(row, ds.matrix.Row(p.Partner))
		b.AnchorLabels[row] = ds.labels.Label(p.Anchor)
		b.PartnerLabels[row] = ds.labels.Label(p.Partner)
		ds.binarizer.TransformInto(b.Classes.RawRowView(row), b.AnchorLabels[row])
		b.Relations[row] = float64(p.Relation)
	}
	return b
}

// Batch is a mini-batch of resolved pairs. Row i of every field describes
// the same pair.
type Batch struct {
	Anchors   *mat.Dense // anchor feature rows
	Partners  *mat.Dense // partner feature rows
	Classes   *mat.Dense // one-hot anchor label; all zero when unlabeled
	Relations []float64  // 1 for positive pairs, 0 for negative

	AnchorLabels  []string
	PartnerLabels []string
	Pairs         []sampling.ContextPair
}

// Size returns the number of pairs in the batch
func (b *Batch) Size() int {
	return len(b.Relations)
}

// LabeledCount returns how many anchors carry a known label
func (b *Batch) LabeledCount() int {
	n := 0
	for _, l := range b.AnchorLabels {
		if l != dataset.Unlabeled {
			n++
		}
	}
	return n
}

// DataLoader provides batching and seeded shuffling over a PairDataset
type DataLoader struct {
	dataset   *PairDataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// NewDataLoader creates a new DataLoader. The first epoch uses dataset
// order; Reset reshuffles when shuffle is set.
func NewDataLoader(ds *PairDataset, batchSize int, shuffle bool, seed int64) *DataLoader {
	if batchSize < 1 {
		batchSize = 1
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if the epoch is complete. The last
// batch may be smaller than the batch size.
func (dl *DataLoader) Next() *Batch {
	if dl.position >= len(dl.indices) {
		return nil
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batch := dl.dataset.Batch(dl.indices[dl.position:batchEnd])
	dl.position = batchEnd
	return batch
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	return dl.position < len(dl.indices)
}
