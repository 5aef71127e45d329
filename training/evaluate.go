package training

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// relationThreshold splits sigmoid relation scores into predicted 0/1
const relationThreshold = 0.5

// EpochMetrics are pair-weighted averages over the batches seen
type EpochMetrics struct {
	ClassLoss        float64
	ClassAccuracy    float64
	RelationLoss     float64
	RelationAccuracy float64
	TotalLoss        float64
	Pairs            int
	LabeledPairs     int

	// binary scores of the relation head, positive pairs as class 1
	RelationPrecision float64
	RelationRecall    float64
	RelationF1        float64
}

// metricsAccumulator folds per-batch results into EpochMetrics.
// Classification loss is weighted by labeled anchors, relation loss by
// pairs; accuracies come from the confusion matrices.
type metricsAccumulator struct {
	weights LossWeights
	ce      *CrossEntropyLoss
	bce     *BinaryCrossEntropyLoss

	classLoss, relLoss     float64
	pairs, labeled         int
	classMatrix, relMatrix *ConfusionMatrix
	scores, targets        []float64
}

func newMetricsAccumulator(weights LossWeights, numClasses int) *metricsAccumulator {
	return &metricsAccumulator{
		weights:     weights,
		ce:          NewCrossEntropyLoss(),
		bce:         NewBinaryCrossEntropyLoss(),
		classMatrix: NewConfusionMatrix(numClasses),
		relMatrix:   NewConfusionMatrix(2),
	}
}

// add computes both losses for pred and scores it
func (a *metricsAccumulator) add(batch *Batch, pred *Prediction) error {
	if err := checkPrediction(batch, pred); err != nil {
		return err
	}

	classLoss, labeled, err := a.ce.Forward(pred.ClassProbs, batch.Classes)
	if err != nil {
		return errors.Wrap(err, "classification loss")
	}
	relLoss, err := a.bce.Forward(pred.Relation, batch.Relations)
	if err != nil {
		return errors.Wrap(err, "relation loss")
	}

	if err := a.addAccuracy(batch, pred); err != nil {
		return err
	}
	a.addLosses(classLoss, labeled, relLoss, batch.Size())
	return nil
}

// addLosses folds in batch-mean losses over labeled anchors and n pairs
func (a *metricsAccumulator) addLosses(classLoss float64, labeled int, relLoss float64, n int) {
	a.classLoss += classLoss * float64(labeled)
	a.relLoss += relLoss * float64(n)
	a.labeled += labeled
	a.pairs += n
}

func (a *metricsAccumulator) addAccuracy(batch *Batch, pred *Prediction) error {
	if err := checkPrediction(batch, pred); err != nil {
		return err
	}
	if err := a.classMatrix.UpdateFromProbabilities(pred.ClassProbs, batch.Classes); err != nil {
		return errors.Wrap(err, "classification accuracy")
	}
	if err := a.relMatrix.UpdateFromScores(pred.Relation, batch.Relations, relationThreshold); err != nil {
		return errors.Wrap(err, "relation accuracy")
	}
	a.scores = append(a.scores, pred.Relation...)
	a.targets = append(a.targets, batch.Relations...)
	return nil
}

func (a *metricsAccumulator) metrics() EpochMetrics {
	m := EpochMetrics{
		Pairs:            a.pairs,
		LabeledPairs:     a.labeled,
		ClassAccuracy:    a.classMatrix.GetAccuracy(),
		RelationAccuracy: a.relMatrix.GetAccuracy(),

		RelationPrecision: a.relMatrix.GetMetric(Precision),
		RelationRecall:    a.relMatrix.GetMetric(Recall),
		RelationF1:        a.relMatrix.GetMetric(F1Score),
	}
	if a.labeled > 0 {
		m.ClassLoss = a.classLoss / float64(a.labeled)
	}
	if a.pairs > 0 {
		m.RelationLoss = a.relLoss / float64(a.pairs)
	}
	m.TotalLoss = a.weights.Combine(m.ClassLoss, m.RelationLoss).Total
	return m
}

func checkPrediction(batch *Batch, pred *Prediction) error {
	if pred == nil || pred.ClassProbs == nil {
		return fmt.Errorf("empty prediction")
	}
	if len(pred.Relation) != batch.Size() {
		return fmt.Errorf("relation scores: expected %d, got %d", batch.Size(), len(pred.Relation))
	}
	return nil
}

// Evaluation is a full pass of the model over one split
type Evaluation struct {
	EpochMetrics
	ClassConfusion    *ConfusionMatrix
	RelationConfusion *ConfusionMatrix
	RelationAUC       float64 // NaN when only one relation value is present
}

// Evaluate runs PredictBatch over every pair of ds in order. It never
// calls TrainStep.
func Evaluate(m Model, ds *PairDataset, batchSize int) (*Evaluation, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("empty evaluation set")
	}

	acc := newMetricsAccumulator(m.LossWeights(), ds.NumClasses())
	loader := NewDataLoader(ds, batchSize, false, 0)
	for batch := loader.Next(); batch != nil; batch = loader.Next() {
		pred, err := m.PredictBatch(batch)
		if err != nil {
			return nil, errors.Wrap(err, "predict batch")
		}
		if err := acc.add(batch, pred); err != nil {
			return nil, err
		}
	}

	return &Evaluation{
		EpochMetrics:      acc.metrics(),
		ClassConfusion:    acc.classMatrix,
		RelationConfusion: acc.relMatrix,
		RelationAUC:       CalculateAUCROC(acc.scores, acc.targets),
	}, nil
}

// EvaluateSimilarity runs the similarity path over every pair of ds and
// scores it with SimilarityQuality
func EvaluateSimilarity(m SimilarityModel, ds *PairDataset, batchSize int) (float64, error) {
	if ds == nil || ds.Len() == 0 {
		return math.NaN(), fmt.Errorf("empty similarity set")
	}

	var sims []float64
	var anchors, partners []string
	loader := NewDataLoader(ds, batchSize, false, 0)
	for batch := loader.Next(); batch != nil; batch = loader.Next() {
		s, err := m.EmbedSimilarity(batch)
		if err != nil {
			return math.NaN(), errors.Wrap(err, "embed similarity")
		}
		sims = append(sims, s...)
		anchors = append(anchors, batch.AnchorLabels...)
		partners = append(partners, batch.PartnerLabels...)
	}

	score, _, err := SimilarityQuality(sims, anchors, partners)
	return score, err
}
