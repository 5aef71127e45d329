package training

import "gonum.org/v1/gonum/mat"

// Prediction is the output of both heads for one batch
type Prediction struct {
	ClassProbs *mat.Dense // batch x classes softmax distribution
	Relation   []float64  // sigmoid relation score per pair
}

// StepOutput is what a single optimisation step reports
type StepOutput struct {
	Loss       LossBreakdown
	Prediction *Prediction // forward pass used for the step, before the update
}

// Model is the dual-objective training model driven by the Controller.
// PredictBatch must not mutate weights or consume training randomness.
type Model interface {
	TrainStep(batch *Batch) (*StepOutput, error)
	PredictBatch(batch *Batch) (*Prediction, error)
	LossWeights() LossWeights

	SetLearningRate(lr float64)
	LearningRate() float64
}

// SimilarityModel scores pair similarity with the encoder shared by the
// training model. It has no classification head.
type SimilarityModel interface {
	EmbedSimilarity(batch *Batch) ([]float64, error)
}
