package dataset

import (
	"fmt"
	"sort"

	"github.com/tsawler/go-graphsemi/errdefs"
)

// Unlabeled is the sentinel token for samples without a known label
const Unlabeled = "unlabeled"

// LabelMap assigns exactly one label token to every sample index
type LabelMap struct {
	labels  []string
	classes []string
	members map[string][]int
}

// NewLabelMap indexes the given per-sample labels. Empty strings are treated
// as Unlabeled.
func NewLabelMap(labels []string) *LabelMap {
	lm := &LabelMap{
		labels:  make([]string, len(labels)),
		members: make(map[string][]int),
	}

	for i, label := range labels {
		if label == "" {
			label = Unlabeled
		}
		lm.labels[i] = label
		if label == Unlabeled {
			continue
		}
		if _, seen := lm.members[label]; !seen {
			lm.classes = append(lm.classes, label)
		}
		lm.members[label] = append(lm.members[label], i)
	}
	sort.Strings(lm.classes)

	return lm
}

// Len returns the number of samples covered
func (lm *LabelMap) Len() int {
	return len(lm.labels)
}

// Label returns the label token of sample i
func (lm *LabelMap) Label(i int) string {
	return lm.labels[i]
}

// IsLabeled reports whether sample i has a known label
func (lm *LabelMap) IsLabeled(i int) bool {
	return lm.labels[i] != Unlabeled
}

// Classes returns the sorted set of known labels
func (lm *LabelMap) Classes() []string {
	return lm.classes
}

// Members returns the ascending sample indices carrying label. The returned
// slice must not be modified.
func (lm *LabelMap) Members(label string) []int {
	return lm.members[label]
}

// LabeledCount returns how many samples have a known label
func (lm *LabelMap) LabeledCount() int {
	n := 0
	for _, idx := range lm.members {
		n += len(idx)
	}
	return n
}

// Distribution returns the number of samples per label, Unlabeled included
func (lm *LabelMap) Distribution() map[string]int {
	dist := make(map[string]int, len(lm.classes)+1)
	for _, label := range lm.labels {
		dist[label]++
	}
	return dist
}

// Validate checks the map covers exactly n samples
func (lm *LabelMap) Validate(n int) error {
	if len(lm.labels) != n {
		return errdefs.InvalidInput("dataset.LabelMap", "%d labels for %d samples", len(lm.labels), n)
	}
	return nil
}

// LabelBinarizer maps known labels to one-hot vectors. Unlabeled samples map
// to the zero vector so they contribute nothing to the classification loss.
type LabelBinarizer struct {
	classes    []string
	classToIdx map[string]int
}

// NewLabelBinarizer fits the binarizer to a class list
func NewLabelBinarizer(classes []string) (*LabelBinarizer, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("label binarizer needs at least one class")
	}

	lb := &LabelBinarizer{
		classes:    append([]string(nil), classes...),
		classToIdx: make(map[string]int, len(classes)),
	}
	for i, c := range lb.classes {
		if c == Unlabeled {
			return nil, fmt.Errorf("%q cannot be a class", Unlabeled)
		}
		if _, dup := lb.classToIdx[c]; dup {
			return nil, fmt.Errorf("duplicate class %q", c)
		}
		lb.classToIdx[c] = i
	}
	return lb, nil
}

// Classes returns the fitted classes in index order
func (lb *LabelBinarizer) Classes() []string {
	return lb.classes
}

// NumClasses returns the one-hot width
func (lb *LabelBinarizer) NumClasses() int {
	return len(lb.classes)
}

// Index returns the class index for label, or -1 for unknown/unlabeled
func (lb *LabelBinarizer) Index(label string) int {
	if idx, ok := lb.classToIdx[label]; ok {
		return idx
	}
	return -1
}

// TransformInto writes the one-hot encoding of label into dst
func (lb *LabelBinarizer) TransformInto(dst []float64, label string) {
	for i := range dst {
		dst[i] = 0
	}
	if idx := lb.Index(label); idx >= 0 {
		dst[idx] = 1
	}
}

// Transform returns the one-hot encoding of label
func (lb *LabelBinarizer) Transform(label string) []float64 {
	out := make([]float64, len(lb.classes))
	lb.TransformInto(out, label)
	return out
}

// Inverse returns the class name for a one-hot or probability row (argmax)
func (lb *LabelBinarizer) Inverse(row []float64) string {
	best, bestVal := -1, 0.0
	for i, v := range row {
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	if best < 0 || best >= len(lb.classes) {
		return Unlabeled
	}
	return lb.classes[best]
}
