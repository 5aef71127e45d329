package graph

import (
	"io"
	"math"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/errdefs"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Algorithm selects the nearest-neighbor search strategy
type Algorithm string

const (
	Auto   Algorithm = "auto"
	KDTree Algorithm = "kdtree"
	// Brute compares every pair of samples: O(N^2 * D). Only sensible for
	// small N or as a reference implementation in tests.
	Brute Algorithm = "brute"
)

// DefaultBruteForceBelow is the sample count under which Auto uses Brute
const DefaultBruteForceBelow = 32

// Options tunes graph construction. The zero value is valid.
type Options struct {
	Algorithm       Algorithm
	BruteForceBelow int
	Workers         int // parallel queries against the immutable index
	Logger          logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Algorithm == "" {
		o.Algorithm = Auto
	}
	if o.BruteForceBelow <= 0 {
		o.BruteForceBelow = DefaultBruteForceBelow
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	return o
}

// Build computes the k-nearest-neighbor graph of matrix by Euclidean
// distance. k is clamped to N-1. The result is deterministic: neighbors are
// ordered by distance and ties are broken by the lower sample index,
// independent of the search order.
func Build(matrix *dataset.FeatureMatrix, k int, opts Options) (*SimilarityGraph, error) {
	opts = opts.withDefaults()

	if matrix == nil {
		return nil, errdefs.InvalidInput("graph.Build", "nil feature matrix")
	}
	n := matrix.Rows()
	if n < 2 {
		return nil, errdefs.InvalidInput("graph.Build", "need at least 2 samples, got %d", n)
	}
	if k < 1 {
		return nil, errdefs.InvalidInput("graph.Build", "k must be >= 1, got %d", k)
	}
	if idx, ok := matrix.Finite(); !ok {
		return nil, errdefs.InvalidInput("graph.Build", "sample %d has non-finite features", idx)
	}

	effectiveK := k
	if effectiveK > n-1 {
		effectiveK = n - 1
	}

	algorithm := opts.Algorithm
	if algorithm == Auto {
		algorithm = KDTree
		if n <= opts.BruteForceBelow {
			algorithm = Brute
		}
	}

	logger := opts.Logger.WithFields(logrus.Fields{
		"component": "graph_builder",
		"samples":   n,
		"k":         effectiveK,
		"algorithm": string(algorithm),
	})
	if effectiveK != k {
		logger.WithField("requested_k", k).Info("clamped k to N-1")
	}

	start := time.Now()
	var search func(i int) []Neighbor
	switch algorithm {
	case Brute:
		search = bruteSearcher(matrix, effectiveK)
	case KDTree:
		search = treeSearcher(matrix, effectiveK)
	default:
		return nil, errdefs.InvalidInput("graph.Build", "unknown algorithm %q", algorithm)
	}

	neighbors := make([][]Neighbor, n)
	var g errgroup.Group
	g.SetLimit(opts.Workers)
	chunk := (n + opts.Workers - 1) / opts.Workers
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				neighbors[i] = search(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sg := &SimilarityGraph{k: effectiveK, neighbors: neighbors}
	logger.WithFields(logrus.Fields{
		"took":          time.Since(start),
		"mean_distance": sg.MeanDistance(),
	}).Debug("built similarity graph")

	return sg, nil
}

func bruteSearcher(matrix *dataset.FeatureMatrix, k int) func(int) []Neighbor {
	n := matrix.Rows()
	return func(i int) []Neighbor {
		row := matrix.Row(i)
		candidates := make([]Neighbor, 0, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			candidates = append(candidates, Neighbor{Index: j, Distance: squaredDistance(row, matrix.Row(j))})
		}
		return finalize(candidates, k)
	}
}

func treeSearcher(matrix *dataset.FeatureMatrix, k int) func(int) []Neighbor {
	n := matrix.Rows()
	pts := make(points, n)
	for i := range pts {
		pts[i] = point{index: i, vec: matrix.Row(i)}
	}
	// New reorders its input, so give it a copy and keep pts index-addressed
	tree := kdtree.New(append(points(nil), pts...), false)

	return func(i int) []Neighbor {
		q := pts[i]

		// radius of the (k+1)-th closest point, counting the query itself
		nearest := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(nearest, q)
		radius := 0.0
		for _, c := range nearest.Heap {
			if c.Comparable != nil && c.Dist > radius {
				radius = c.Dist
			}
		}

		// collect everything inside that radius so equidistant points are
		// ranked by index rather than by traversal order
		within := kdtree.NewDistKeeper(radius + radius*1e-12 + math.SmallestNonzeroFloat64)
		tree.NearestSet(within, q)

		candidates := make([]Neighbor, 0, len(within.Heap))
		for _, c := range within.Heap {
			if c.Comparable == nil {
				continue
			}
			p := c.Comparable.(point)
			if p.index == i {
				continue
			}
			candidates = append(candidates, Neighbor{Index: p.index, Distance: c.Dist})
		}
		return finalize(candidates, k)
	}
}

// finalize sorts squared-distance candidates, keeps k and converts to
// Euclidean distances
func finalize(candidates []Neighbor, k int) []Neighbor {
	sortNeighbors(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Neighbor, len(candidates))
	for i, c := range candidates {
		out[i] = Neighbor{Index: c.Index, Distance: math.Sqrt(c.Distance)}
	}
	return out
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// point is a kd-tree entry that remembers its sample index
type point struct {
	index int
	vec   []float64
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	return p.vec[d] - q.vec[d]
}

func (p point) Dims() int { return len(p.vec) }

// Distance is the squared Euclidean distance, as the kd-tree pruning expects
func (p point) Distance(c kdtree.Comparable) float64 {
	return squaredDistance(p.vec, c.(point).vec)
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Pivot(d kdtree.Dim) int                { return plane{points: p, dim: d}.pivot() }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane sorts points along one dimension for median selection
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	a, b := p.points[i].vec[p.dim], p.points[j].vec[p.dim]
	if a != b {
		return a < b
	}
	return p.points[i].index < p.points[j].index
}

func (p plane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], dim: p.dim}
}

func (p plane) pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}
