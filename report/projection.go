package report

import (
	"fmt"
	"math"

	"github.com/danaugrs/go-tsne/tsne"
	"gonum.org/v1/gonum/mat"
)

// ProjectionOptions configures the t-SNE projection of embeddings
type ProjectionOptions struct {
	Perplexity   float64 `yaml:"perplexity"`
	LearningRate float64 `yaml:"learning_rate"`
	Iterations   int     `yaml:"iterations"`
}

// DefaultProjectionOptions returns the usual t-SNE settings
func DefaultProjectionOptions() ProjectionOptions {
	return ProjectionOptions{
		Perplexity:   30,
		LearningRate: 200,
		Iterations:   300,
	}
}

// ProjectEmbeddings maps each row of embeddings to two dimensions with
// t-SNE. Perplexity is capped at (rows-1)/3 so small inputs still
// converge.
func ProjectEmbeddings(embeddings mat.Matrix, opts ProjectionOptions) (*mat.Dense, error) {
	rows, cols := embeddings.Dims()
	if rows < 4 {
		return nil, fmt.Errorf("t-SNE needs at least 4 points, got %d", rows)
	}
	if cols == 0 {
		return nil, fmt.Errorf("embeddings have no columns")
	}
	if opts.Iterations < 1 {
		return nil, fmt.Errorf("iterations must be at least 1")
	}

	perplexity := math.Min(opts.Perplexity, float64(rows-1)/3)
	if perplexity <= 0 {
		return nil, fmt.Errorf("perplexity must be positive")
	}

	t := tsne.NewTSNE(2, perplexity, opts.LearningRate, opts.Iterations, false)
	t.EmbedData(embeddings, nil)
	return mat.DenseCopyOf(t.Y), nil
}
