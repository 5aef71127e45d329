package training

import (
	"fmt"
	"math"
	"sort"

	"github.com/tsawler/go-graphsemi/dataset"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MetricType names a binary metric of a 2-class confusion matrix; class 1
// is the positive class
type MetricType int

const (
	Precision MetricType = iota
	Recall
	F1Score
	Specificity
	NPV // Negative Predictive Value
)

func (mt MetricType) String() string {
	switch mt {
	case Precision:
		return "Precision"
	case Recall:
		return "Recall"
	case F1Score:
		return "F1Score"
	case Specificity:
		return "Specificity"
	case NPV:
		return "NPV"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts predictions per true class
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int

	// Cached metrics to avoid recomputation
	cachedMetrics map[MetricType]float64
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses:    numClasses,
		Matrix:        matrix,
		cachedMetrics: make(map[MetricType]float64),
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
	cm.cachedMetrics = make(map[MetricType]float64)
}

// Add records one prediction. Out-of-range classes are ignored.
func (cm *ConfusionMatrix) Add(trueClass, predClass int) {
	if trueClass < 0 || trueClass >= cm.NumClasses || predClass < 0 || predClass >= cm.NumClasses {
		return
	}
	cm.Matrix[trueClass][predClass]++
	cm.TotalSamples++
	cm.cachedMetrics = make(map[MetricType]float64)
}

// UpdateFromProbabilities records argmax predictions for every row with a
// one-hot target; all-zero target rows are skipped
func (cm *ConfusionMatrix) UpdateFromProbabilities(probs, targets *mat.Dense) error {
	if err := sameShape(probs, targets); err != nil {
		return err
	}
	if _, c := probs.Dims(); c != cm.NumClasses {
		return fmt.Errorf("class count mismatch: expected %d, got %d", cm.NumClasses, c)
	}

	rows, _ := probs.Dims()
	for i := 0; i < rows; i++ {
		y := targets.RawRowView(i)
		if rowMass(y) == 0 {
			continue
		}
		cm.Add(floats.MaxIdx(y), floats.MaxIdx(probs.RawRowView(i)))
	}
	return nil
}

// UpdateFromScores records thresholded binary predictions
func (cm *ConfusionMatrix) UpdateFromScores(scores, targets []float64, threshold float64) error {
	if cm.NumClasses != 2 {
		return fmt.Errorf("binary scores need a 2-class matrix, have %d", cm.NumClasses)
	}
	if len(scores) != len(targets) {
		return fmt.Errorf("batch size mismatch: scores %d, targets %d", len(scores), len(targets))
	}
	for i, s := range scores {
		pred := 0
		if s >= threshold {
			pred = 1
		}
		cm.Add(int(targets[i]), pred)
	}
	return nil
}

// GetMetric calculates and caches evaluation metrics
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	if value, exists := cm.cachedMetrics[metric]; exists {
		return value
	}

	var result float64

	switch metric {
	case Precision:
		result = cm.binaryRatio(1, 1, 0, 1)
	case Recall:
		result = cm.binaryRatio(1, 1, 1, 0)
	case F1Score:
		result = harmonic(cm.GetMetric(Precision), cm.GetMetric(Recall))
	case Specificity:
		result = cm.binaryRatio(0, 0, 0, 1)
	case NPV:
		result = cm.binaryRatio(0, 0, 1, 0)
	default:
		return 0.0
	}

	cm.cachedMetrics[metric] = result
	return result
}

// binaryRatio returns M[a][b] / (M[a][b] + M[c][d]) for a 2-class matrix
func (cm *ConfusionMatrix) binaryRatio(a, b, c, d int) float64 {
	if cm.NumClasses != 2 {
		return 0.0
	}
	hit := float64(cm.Matrix[a][b])
	miss := float64(cm.Matrix[c][d])
	if hit+miss == 0 {
		return 0.0
	}
	return hit / (hit + miss)
}

// ClassPrecision returns the precision of one class, NaN when it is never
// predicted
func (cm *ConfusionMatrix) ClassPrecision(class int) float64 {
	var total int
	for t := range cm.Matrix {
		total += cm.Matrix[t][class]
	}
	if total == 0 {
		return math.NaN()
	}
	return float64(cm.Matrix[class][class]) / float64(total)
}

// ClassSupport returns how many samples of class were recorded
func (cm *ConfusionMatrix) ClassSupport(class int) int {
	var total int
	for _, n := range cm.Matrix[class] {
		total += n
	}
	return total
}

// ClassRecall returns the recall of one class, NaN when it never occurs
func (cm *ConfusionMatrix) ClassRecall(class int) float64 {
	total := cm.ClassSupport(class)
	if total == 0 {
		return math.NaN()
	}
	return float64(cm.Matrix[class][class]) / float64(total)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}

	return float64(correct) / float64(cm.TotalSamples)
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0.0
	}
	return 2 * (p * r) / (p + r)
}

// CalculateAUCROC calculates Area Under ROC Curve for binary scores. It
// returns NaN unless both classes are present.
func CalculateAUCROC(scores, labels []float64) float64 {
	if len(scores) != len(labels) || len(scores) == 0 {
		return math.NaN()
	}

	type predLabel struct {
		score float64
		label float64
	}

	pairs := make([]predLabel, len(scores))
	for i := range scores {
		pairs[i] = predLabel{score: scores[i], label: labels[i]}
	}

	// Sort by prediction score (descending)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})

	totalPos, totalNeg := 0, 0
	for _, pair := range pairs {
		if pair.label == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return math.NaN()
	}

	// trapezoidal rule; tied scores advance together
	auc := 0.0
	tp, fp := 0, 0
	prevTPR, prevFPR := 0.0, 0.0
	for i := 0; i < len(pairs); {
		j := i
		for ; j < len(pairs) && pairs[j].score == pairs[i].score; j++ {
			if pairs[j].label == 1 {
				tp++
			} else {
				fp++
			}
		}
		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2.0
		prevTPR, prevFPR = tpr, fpr
		i = j
	}

	return auc
}

// SimilarityQuality scores how well predicted pair similarity tracks label
// agreement: the Pearson correlation between similarity and a 0/1
// same-label indicator, over pairs whose two labels are both known. It
// returns the score and how many pairs were used.
func SimilarityQuality(similarities []float64, anchorLabels, partnerLabels []string) (float64, int, error) {
	if len(similarities) != len(anchorLabels) || len(similarities) != len(partnerLabels) {
		return math.NaN(), 0, fmt.Errorf("length mismatch: %d similarities, %d anchor labels, %d partner labels",
			len(similarities), len(anchorLabels), len(partnerLabels))
	}

	var sims, agree []float64
	for i, s := range similarities {
		a, p := anchorLabels[i], partnerLabels[i]
		if a == dataset.Unlabeled || p == dataset.Unlabeled {
			continue
		}
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return math.NaN(), 0, fmt.Errorf("non-finite similarity at pair %d", i)
		}
		sims = append(sims, s)
		if a == p {
			agree = append(agree, 1)
		} else {
			agree = append(agree, 0)
		}
	}

	n := len(sims)
	if n < 2 {
		return math.NaN(), n, fmt.Errorf("need at least 2 fully labeled pairs, got %d", n)
	}
	if constant(sims) || constant(agree) {
		return math.NaN(), n, fmt.Errorf("correlation undefined: constant similarity or label agreement over %d pairs", n)
	}

	return stat.Correlation(sims, agree, nil), n, nil
}

func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
